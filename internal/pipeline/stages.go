package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/chungtau/ledger-payments/internal/contracts"
)

// ValidationStage rejects malformed or inadmissible commands before any
// state is touched. Validation failures are terminal, never retried.
type ValidationStage struct{}

func (ValidationStage) Name() string { return "Validation" }

func (ValidationStage) Execute(_ context.Context, exec *Execution) (StageResult, error) {
	cmd := exec.Command

	if _, err := uuid.Parse(cmd.TransactionID); err != nil {
		return Fail(contracts.ReasonValidation), nil
	}
	if _, err := uuid.Parse(cmd.AccountID); err != nil {
		return Fail(contracts.ReasonValidation), nil
	}
	if !cmd.Amount.IsPositive() {
		return Fail(contracts.ReasonValidation), nil
	}
	if len(cmd.Currency) != 3 {
		return Fail(contracts.ReasonValidation), nil
	}
	if cmd.Type == contracts.CommandReverseDebit && cmd.OriginalTransactionID == "" {
		return Fail(contracts.ReasonValidation), nil
	}
	return Continue(), nil
}

// ProcessingStage resolves the transaction-type-specific processor from the
// registry and applies the command. A missing registration is a terminal
// configuration failure, not a crash.
type ProcessingStage struct {
	registry *Registry
}

func NewProcessingStage(registry *Registry) *ProcessingStage {
	return &ProcessingStage{registry: registry}
}

func (*ProcessingStage) Name() string { return "Processing" }

func (s *ProcessingStage) Execute(ctx context.Context, exec *Execution) (StageResult, error) {
	processor, ok := s.registry.Resolve(exec.Command.Type)
	if !ok {
		return Fail(contracts.ReasonNoProcessorRegistered), nil
	}

	result, err := processor.Process(ctx, exec.Command)
	if err != nil {
		return StageResult{}, err
	}

	exec.Result = result
	if result.Failed() {
		return Fail(result.FailureReason), nil
	}
	return Continue(), nil
}
