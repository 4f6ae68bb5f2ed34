package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrAccountNotFound is returned when an account id has no row.
var ErrAccountNotFound = errors.New("account not found")

// Account is the owning-service view of an account. Balance is mutated only
// by the transaction processors, never directly by callers.
type Account struct {
	ID        string
	UserID    string
	Currency  string
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
}

// CreateAccount inserts a new account with an optional opening balance.
func (s *Store) CreateAccount(ctx context.Context, userID, currency string, initialBalance decimal.Decimal) (Account, error) {
	account := Account{
		ID:       uuid.New().String(),
		UserID:   userID,
		Currency: currency,
		Balance:  initialBalance,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, user_id, currency, balance)
		 VALUES ($1, $2, $3, $4)
		 RETURNING version, created_at`,
		account.ID, account.UserID, account.Currency, account.Balance.String(),
	).Scan(&account.Version, &account.CreatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

// GetAccount returns the current state of an account.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	var (
		account Account
		balance string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, currency, balance, version, created_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&account.ID, &account.UserID, &account.Currency, &balance, &account.Version, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}

	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return Account{}, fmt.Errorf("parse balance: %w", err)
	}
	return account, nil
}

// lockAccount reads an account balance under a row lock inside tx.
func lockAccount(ctx context.Context, tx *sql.Tx, id string) (decimal.Decimal, error) {
	var balance string
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock account: %w", err)
	}
	return decimal.NewFromString(balance)
}

// adjustBalance applies a signed delta to a locked account row.
func adjustBalance(ctx context.Context, tx *sql.Tx, id string, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1, version = version + 1 WHERE id = $2`,
		delta.String(), id)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return nil
}
