package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/contracts"
)

// ApplyDebit executes the debit leg atomically: lock the account, check the
// available balance, subtract, record the transaction row. The transaction
// id is the primary key, so re-processing a redelivered command returns the
// previously recorded result instead of applying a second effect.
func (s *Store) ApplyDebit(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	return s.apply(ctx, cmd, cmd.Amount.Neg(), true)
}

// ApplyCredit executes the credit leg: no funds check, balance increases.
func (s *Store) ApplyCredit(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	return s.apply(ctx, cmd, cmd.Amount, false)
}

// ApplyReversal compensates an applied debit by crediting the amount back.
// The reversal row links to the original transaction via
// original_transaction_id and is idempotent on its own transaction id.
func (s *Store) ApplyReversal(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	return s.apply(ctx, cmd, cmd.Amount, false)
}

// apply is the shared all-or-nothing money movement. Business-rule failures
// (unknown account, insufficient funds) are committed as Failed rows so a
// redelivered command replays the identical terminal result; infrastructure
// errors roll back and bubble up for transport-level retry.
func (s *Store) apply(ctx context.Context, cmd contracts.Command, delta decimal.Decimal, checkFunds bool) (result contracts.TransactionResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if existing, found, lookupErr := getTransaction(ctx, tx, cmd.TransactionID); lookupErr != nil {
		err = lookupErr
		return result, err
	} else if found {
		// Redelivered command; the effect is already recorded.
		err = tx.Commit()
		return existing, err
	}

	result = contracts.TransactionResult{
		TransactionID: cmd.TransactionID,
		AccountID:     cmd.AccountID,
		Amount:        cmd.Amount,
		Currency:      cmd.Currency,
		Outcome:       contracts.OutcomeCompleted,
	}

	balance, lockErr := lockAccount(ctx, tx, cmd.AccountID)
	switch {
	case errors.Is(lockErr, ErrAccountNotFound):
		result.Outcome = contracts.OutcomeFailed
		result.FailureReason = contracts.ReasonAccountNotFound
	case lockErr != nil:
		err = lockErr
		return result, err
	case checkFunds && balance.LessThan(cmd.Amount):
		result.Outcome = contracts.OutcomeFailed
		result.FailureReason = contracts.ReasonInsufficientFunds
	default:
		if err = adjustBalance(ctx, tx, cmd.AccountID, delta); err != nil {
			return result, err
		}
	}

	if err = insertTransaction(ctx, tx, cmd, result); err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func getTransaction(ctx context.Context, tx *sql.Tx, id string) (contracts.TransactionResult, bool, error) {
	var (
		result contracts.TransactionResult
		amount string
		reason string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, account_id, amount, currency, outcome, failure_reason
		 FROM transactions WHERE id = $1`, id,
	).Scan(&result.TransactionID, &result.AccountID, &amount, &result.Currency, &result.Outcome, &reason)
	if err == sql.ErrNoRows {
		return result, false, nil
	}
	if err != nil {
		return result, false, fmt.Errorf("select transaction: %w", err)
	}

	result.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return result, false, fmt.Errorf("parse amount: %w", err)
	}
	result.FailureReason = contracts.FailureReason(reason)
	return result, true, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, cmd contracts.Command, result contracts.TransactionResult) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, account_id, type, amount, currency, outcome, failure_reason, transfer_id, original_transaction_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))`,
		cmd.TransactionID, cmd.AccountID, string(cmd.Type), cmd.Amount.String(), cmd.Currency,
		string(result.Outcome), string(result.FailureReason), cmd.TransferID, cmd.OriginalTransactionID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
