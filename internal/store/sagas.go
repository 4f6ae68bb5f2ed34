package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/saga"
)

// SagaStore implements saga.Store on Postgres. Per-transfer serialization
// uses a transaction-scoped advisory lock on the transfer id, so concurrent
// events for different transfers never contend.
type SagaStore struct {
	db *sql.DB
}

// Sagas returns the saga repository backed by this store.
func (s *Store) Sagas() *SagaStore {
	return &SagaStore{db: s.db}
}

func (s *SagaStore) Update(ctx context.Context, transferID string, fn func(*saga.Instance) (*saga.Instance, error)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, transferID); err != nil {
		return fmt.Errorf("lock saga %s: %w", transferID, err)
	}

	current, err := selectSaga(ctx, tx, transferID)
	if err != nil {
		return err
	}

	updated, err := fn(current)
	if err != nil {
		return err
	}
	if updated == nil {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transfer_sagas
		 (transfer_id, from_account_id, to_account_id, amount, currency, callback_url, current_state, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (transfer_id) DO UPDATE
		 SET current_state = EXCLUDED.current_state, updated_at = now()`,
		updated.TransferID, updated.FromAccountID, updated.ToAccountID,
		updated.Amount.String(), updated.Currency, updated.CallbackURL, string(updated.State))
	if err != nil {
		return fmt.Errorf("upsert saga %s: %w", transferID, err)
	}

	return tx.Commit()
}

func (s *SagaStore) ListNonTerminal(ctx context.Context, updatedBefore time.Time) ([]saga.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transfer_id, from_account_id, to_account_id, amount, currency, callback_url, current_state, updated_at
		 FROM transfer_sagas
		 WHERE current_state NOT IN ($1, $2) AND updated_at < $3`,
		string(saga.StateCreditCompleted), string(saga.StateFailed), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var out []saga.Instance
	for rows.Next() {
		inst, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func selectSaga(ctx context.Context, tx *sql.Tx, transferID string) (*saga.Instance, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT transfer_id, from_account_id, to_account_id, amount, currency, callback_url, current_state, updated_at
		 FROM transfer_sagas WHERE transfer_id = $1`, transferID)

	inst, err := scanSaga(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (saga.Instance, error) {
	var (
		inst   saga.Instance
		amount string
		state  string
	)
	err := row.Scan(&inst.TransferID, &inst.FromAccountID, &inst.ToAccountID,
		&amount, &inst.Currency, &inst.CallbackURL, &state, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return inst, err
	}
	if err != nil {
		return inst, fmt.Errorf("scan saga: %w", err)
	}

	inst.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return inst, fmt.Errorf("parse saga amount: %w", err)
	}
	inst.State = saga.State(state)
	return inst, nil
}
