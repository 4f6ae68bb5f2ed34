// Package processor contains the transaction-type-specific handlers
// resolved by the pipeline's processing stage. All money movement is
// delegated to the ledger, which applies it in a single atomic database
// transaction keyed by transaction id.
package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/pipeline"
)

// Ledger is the persistence surface the processors act on. Every method is
// idempotent on cmd.TransactionID.
type Ledger interface {
	ApplyDebit(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error)
	ApplyCredit(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error)
	ApplyReversal(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error)
}

// Register wires the standard processors into a registry. This is the
// explicit startup configuration step; nothing is discovered at runtime.
func Register(registry *pipeline.Registry, ledger Ledger, logger *zap.Logger) {
	registry.Register(contracts.CommandDebit, &Debit{ledger: ledger, logger: logger.Named("debit")})
	registry.Register(contracts.CommandCredit, &Credit{ledger: ledger, logger: logger.Named("credit")})
	registry.Register(contracts.CommandReverseDebit, &ReverseDebit{ledger: ledger, logger: logger.Named("reverse-debit")})
}

// Debit withdraws funds from an account, failing terminally when the
// available balance is insufficient.
type Debit struct {
	ledger Ledger
	logger *zap.Logger
}

func (p *Debit) Process(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	result, err := p.ledger.ApplyDebit(ctx, cmd)
	if err != nil {
		return result, err
	}
	logResult(p.logger, result)
	return result, nil
}

// Credit deposits funds into an existing account.
type Credit struct {
	ledger Ledger
	logger *zap.Logger
}

func (p *Credit) Process(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	result, err := p.ledger.ApplyCredit(ctx, cmd)
	if err != nil {
		return result, err
	}
	logResult(p.logger, result)
	return result, nil
}

// ReverseDebit is the compensation path: it credits a previously debited
// amount back when the credit leg of a transfer fails.
type ReverseDebit struct {
	ledger Ledger
	logger *zap.Logger
}

func (p *ReverseDebit) Process(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	result, err := p.ledger.ApplyReversal(ctx, cmd)
	if err != nil {
		return result, err
	}
	logResult(p.logger, result)
	return result, nil
}

func logResult(logger *zap.Logger, result contracts.TransactionResult) {
	if result.Failed() {
		logger.Warn("transaction failed",
			zap.String("transaction_id", result.TransactionID),
			zap.String("account_id", result.AccountID),
			zap.String("reason", string(result.FailureReason)))
		return
	}
	logger.Info("transaction completed",
		zap.String("transaction_id", result.TransactionID),
		zap.String("account_id", result.AccountID),
		zap.String("amount", result.Amount.String()))
}
