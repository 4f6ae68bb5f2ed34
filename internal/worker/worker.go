// Package worker consumes money-movement commands from the bus, runs them
// through the transaction pipeline and publishes the terminal result. The
// completion event is only published once a terminal result exists; handler
// errors leave the offset uncommitted so the transport redelivers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/pipeline"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

// Service processes commands for one or more command topics.
type Service struct {
	pipeline  *pipeline.Pipeline
	publisher bus.Publisher
	logger    *zap.Logger
}

func NewService(p *pipeline.Pipeline, publisher bus.Publisher, logger *zap.Logger) *Service {
	return &Service{pipeline: p, publisher: publisher, logger: logger.Named("worker")}
}

// HandleCommand is the bus.HandlerFunc for the command topics.
func (s *Service) HandleCommand(ctx context.Context, msg bus.Message) error {
	ctx, span := telemetry.Tracer.Start(ctx, "worker.HandleCommand",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		))
	defer span.End()

	var cmd contracts.Command
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		// Undecodable payloads can never succeed; fail them towards the DLQ.
		return fmt.Errorf("decode command: %w", err)
	}
	if cmd.SchemaVersion > contracts.SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", cmd.SchemaVersion)
	}

	span.SetAttributes(
		attribute.String("transaction_id", cmd.TransactionID),
		attribute.String("command_type", string(cmd.Type)),
	)

	result, err := s.pipeline.Run(ctx, cmd)
	if err != nil {
		return err
	}

	return s.publishResult(ctx, cmd, result)
}

// publishResult emits the TransactionCompleted event and, for transfer
// legs, the correlated saga event.
func (s *Service) publishResult(ctx context.Context, cmd contracts.Command, result contracts.TransactionResult) error {
	completed := contracts.TransactionCompleted{
		SchemaVersion: contracts.SchemaVersion,
		TransactionID: result.TransactionID,
		AccountID:     result.AccountID,
		Amount:        result.Amount,
		Currency:      result.Currency,
		Status:        result.Outcome,
		FailureReason: result.FailureReason,
		CallbackURL:   cmd.CallbackURL,
		CompletedAt:   time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, contracts.TopicTransactionCompleted, completed.TransactionID, completed); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}

	if cmd.TransferID == "" {
		return nil
	}

	eventType, ok := legEventType(cmd.Type, result.Outcome)
	if !ok {
		// A failed reversal cannot be compensated further; it is logged
		// for operator follow-up instead of looping through the saga.
		s.logger.Error("compensation failed, manual intervention required",
			zap.String("transfer_id", cmd.TransferID),
			zap.String("transaction_id", cmd.TransactionID),
			zap.String("reason", string(result.FailureReason)))
		return nil
	}

	event := contracts.TransferEvent{
		SchemaVersion: contracts.SchemaVersion,
		Type:          eventType,
		TransferID:    cmd.TransferID,
		Reason:        result.FailureReason,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, contracts.TopicTransferEvents, cmd.TransferID, event); err != nil {
		return fmt.Errorf("publish transfer event: %w", err)
	}
	return nil
}

func legEventType(t contracts.CommandType, outcome contracts.Outcome) (contracts.TransferEventType, bool) {
	switch {
	case t == contracts.CommandDebit && outcome == contracts.OutcomeCompleted:
		return contracts.EventDebitCompleted, true
	case t == contracts.CommandDebit:
		return contracts.EventDebitFailed, true
	case t == contracts.CommandCredit && outcome == contracts.OutcomeCompleted:
		return contracts.EventCreditCompleted, true
	case t == contracts.CommandCredit:
		return contracts.EventCreditFailed, true
	case t == contracts.CommandReverseDebit && outcome == contracts.OutcomeCompleted:
		return contracts.EventDebitReversed, true
	default:
		return "", false
	}
}
