// Package store is the Postgres persistence layer for accounts,
// transactions and transfer saga state. Money movements run inside a single
// database transaction with a row lock on the account, so a cancelled or
// failed command never leaves a partial effect.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	currency    TEXT NOT NULL,
	balance     NUMERIC(20, 4) NOT NULL DEFAULT 0,
	version     BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id                       UUID PRIMARY KEY,
	account_id               UUID NOT NULL,
	type                     TEXT NOT NULL,
	amount                   NUMERIC(20, 4) NOT NULL,
	currency                 TEXT NOT NULL,
	outcome                  TEXT NOT NULL,
	failure_reason           TEXT NOT NULL DEFAULT '',
	transfer_id              UUID,
	original_transaction_id  UUID,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transfer_sagas (
	transfer_id      UUID PRIMARY KEY,
	from_account_id  UUID NOT NULL,
	to_account_id    UUID NOT NULL,
	amount           NUMERIC(20, 4) NOT NULL,
	currency         TEXT NOT NULL,
	callback_url     TEXT NOT NULL DEFAULT '',
	current_state    TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store owns the database handle shared by the repositories.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres, verifies connectivity and bootstraps the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping reports backend health, used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}
