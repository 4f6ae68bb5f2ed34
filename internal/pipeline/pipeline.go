// Package pipeline executes money-movement commands through an ordered
// sequence of stages. Stages run strictly in declared order, the first
// failure short-circuits, and panics are converted to Failed results at the
// pipeline boundary while the triggering error still reaches the caller.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

// Execution carries the command and the accumulating result between stages.
type Execution struct {
	Command contracts.Command
	Result  contracts.TransactionResult
}

// StageResult tells the pipeline whether to continue. A zero Next with a
// Reason is a terminal business failure.
type StageResult struct {
	Next   bool
	Reason contracts.FailureReason
}

// Continue proceeds to the next stage.
func Continue() StageResult { return StageResult{Next: true} }

// Fail stops the pipeline with a terminal failure reason.
func Fail(reason contracts.FailureReason) StageResult { return StageResult{Reason: reason} }

// Stage is one step of the pipeline. A returned error is an infrastructure
// fault: the command is eligible for redelivery and no terminal result is
// published. A StageResult failure is a business outcome.
type Stage interface {
	Name() string
	Execute(ctx context.Context, exec *Execution) (StageResult, error)
}

// Pipeline runs stages in declared order.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger
}

// New builds a pipeline from stages, executed in the order given.
func New(logger *zap.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger.Named("pipeline")}
}

// Run executes the command. On a nil error the returned result is terminal
// (Completed or Failed) and must be published exactly once by the caller.
// On a non-nil error no terminal result exists yet; the transport layer
// redelivers the command.
func (p *Pipeline) Run(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error) {
	start := time.Now()
	exec := &Execution{
		Command: cmd,
		Result: contracts.TransactionResult{
			TransactionID: cmd.TransactionID,
			AccountID:     cmd.AccountID,
			Amount:        cmd.Amount,
			Currency:      cmd.Currency,
			Outcome:       contracts.OutcomeCompleted,
		},
	}

	for _, stage := range p.stages {
		res, err := p.executeStage(ctx, stage, exec)
		if err != nil {
			exec.Result.Outcome = contracts.OutcomeFailed
			exec.Result.FailureReason = contracts.ReasonInternal
			return exec.Result, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		if !res.Next {
			exec.Result.Outcome = contracts.OutcomeFailed
			exec.Result.FailureReason = res.Reason
			p.logger.Info("pipeline short-circuited",
				zap.String("transaction_id", cmd.TransactionID),
				zap.String("stage", stage.Name()),
				zap.String("reason", string(res.Reason)))
			break
		}
	}

	telemetry.PipelineDuration.Observe(time.Since(start).Seconds())
	telemetry.TransactionsProcessed.WithLabelValues(
		string(cmd.Type), string(exec.Result.Outcome)).Inc()
	return exec.Result, nil
}

// executeStage isolates stage panics so they never escape the pipeline.
func (p *Pipeline) executeStage(ctx context.Context, stage Stage, exec *Execution) (res StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage panic recovered",
				zap.String("stage", stage.Name()),
				zap.String("transaction_id", exec.Command.TransactionID),
				zap.Any("panic", r))
			err = fmt.Errorf("panic in stage %s: %v", stage.Name(), r)
		}
	}()
	return stage.Execute(ctx, exec)
}
