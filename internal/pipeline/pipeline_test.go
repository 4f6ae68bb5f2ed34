package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/contracts"
)

type recordingStage struct {
	name   string
	result StageResult
	err    error
	calls  *[]string
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) Execute(_ context.Context, _ *Execution) (StageResult, error) {
	*s.calls = append(*s.calls, s.name)
	return s.result, s.err
}

type panicStage struct{}

func (panicStage) Name() string { return "Panic" }

func (panicStage) Execute(_ context.Context, _ *Execution) (StageResult, error) {
	panic("boom")
}

func validCommand(t contracts.CommandType) contracts.Command {
	return contracts.Command{
		SchemaVersion: contracts.SchemaVersion,
		CommandID:     uuid.New().String(),
		TransactionID: uuid.New().String(),
		Type:          t,
		AccountID:     uuid.New().String(),
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
	}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	var calls []string
	p := New(zap.NewNop(),
		&recordingStage{name: "first", result: Continue(), calls: &calls},
		&recordingStage{name: "second", result: Continue(), calls: &calls},
	)

	result, err := p.Run(context.Background(), validCommand(contracts.CommandDebit))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, contracts.OutcomeCompleted, result.Outcome)
}

func TestRunShortCircuitsOnFailure(t *testing.T) {
	var calls []string
	p := New(zap.NewNop(),
		&recordingStage{name: "first", result: Fail(contracts.ReasonValidation), calls: &calls},
		&recordingStage{name: "second", result: Continue(), calls: &calls},
	)

	result, err := p.Run(context.Background(), validCommand(contracts.CommandDebit))
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, calls)
	assert.Equal(t, contracts.OutcomeFailed, result.Outcome)
	assert.Equal(t, contracts.ReasonValidation, result.FailureReason)
}

func TestRunReturnsInfrastructureError(t *testing.T) {
	var calls []string
	infraErr := errors.New("db down")
	p := New(zap.NewNop(),
		&recordingStage{name: "first", err: infraErr, calls: &calls},
		&recordingStage{name: "second", result: Continue(), calls: &calls},
	)

	result, err := p.Run(context.Background(), validCommand(contracts.CommandDebit))
	require.ErrorIs(t, err, infraErr)
	assert.Equal(t, []string{"first"}, calls)
	assert.Equal(t, contracts.OutcomeFailed, result.Outcome)
	assert.Equal(t, contracts.ReasonInternal, result.FailureReason)
}

func TestRunRecoversStagePanic(t *testing.T) {
	p := New(zap.NewNop(), panicStage{})

	result, err := p.Run(context.Background(), validCommand(contracts.CommandDebit))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in stage Panic")
	assert.Equal(t, contracts.OutcomeFailed, result.Outcome)
}

func TestValidationStage(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*contracts.Command)
		pass   bool
	}{
		{"valid debit", func(*contracts.Command) {}, true},
		{"bad transaction id", func(c *contracts.Command) { c.TransactionID = "nope" }, false},
		{"bad account id", func(c *contracts.Command) { c.AccountID = "nope" }, false},
		{"zero amount", func(c *contracts.Command) { c.Amount = decimal.Zero }, false},
		{"negative amount", func(c *contracts.Command) { c.Amount = decimal.NewFromInt(-5) }, false},
		{"bad currency", func(c *contracts.Command) { c.Currency = "DOLLARS" }, false},
		{
			"reversal without original",
			func(c *contracts.Command) {
				c.Type = contracts.CommandReverseDebit
				c.OriginalTransactionID = ""
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validCommand(contracts.CommandDebit)
			tt.mutate(&cmd)

			res, err := ValidationStage{}.Execute(context.Background(), &Execution{Command: cmd})
			require.NoError(t, err)
			assert.Equal(t, tt.pass, res.Next)
			if !tt.pass {
				assert.Equal(t, contracts.ReasonValidation, res.Reason)
			}
		})
	}
}

type stubProcessor struct {
	result contracts.TransactionResult
	err    error
}

func (p stubProcessor) Process(_ context.Context, _ contracts.Command) (contracts.TransactionResult, error) {
	return p.result, p.err
}

func TestProcessingStageMissingProcessor(t *testing.T) {
	stage := NewProcessingStage(NewRegistry())

	res, err := stage.Execute(context.Background(), &Execution{Command: validCommand(contracts.CommandCredit)})
	require.NoError(t, err)
	assert.False(t, res.Next)
	assert.Equal(t, contracts.ReasonNoProcessorRegistered, res.Reason)
}

func TestProcessingStageBusinessFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register(contracts.CommandDebit, stubProcessor{
		result: contracts.TransactionResult{
			Outcome:       contracts.OutcomeFailed,
			FailureReason: contracts.ReasonInsufficientFunds,
		},
	})
	stage := NewProcessingStage(registry)

	exec := &Execution{Command: validCommand(contracts.CommandDebit)}
	res, err := stage.Execute(context.Background(), exec)
	require.NoError(t, err)
	assert.False(t, res.Next)
	assert.Equal(t, contracts.ReasonInsufficientFunds, res.Reason)
	assert.Equal(t, contracts.OutcomeFailed, exec.Result.Outcome)
}

func TestProcessingStagePropagatesInfrastructureError(t *testing.T) {
	registry := NewRegistry()
	infraErr := errors.New("connection refused")
	registry.Register(contracts.CommandDebit, stubProcessor{err: infraErr})
	stage := NewProcessingStage(registry)

	_, err := stage.Execute(context.Background(), &Execution{Command: validCommand(contracts.CommandDebit)})
	require.ErrorIs(t, err, infraErr)
}
