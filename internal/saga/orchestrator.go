package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

// Control-flow sentinels inside Store.Update closures. Both are absorbed:
// at-least-once delivery makes stale and duplicate events expected noise.
var (
	errUnmatched    = errors.New("no saga instance for transfer id")
	errNoTransition = errors.New("no transition for event in current state")
)

// Orchestrator drives transfer sagas. Every transition is persisted through
// the store before its outbound messages are published.
type Orchestrator struct {
	store     Store
	publisher bus.Publisher
	logger    *zap.Logger
}

func NewOrchestrator(store Store, publisher bus.Publisher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("saga"),
	}
}

// HandleTransferRequested creates the saga instance and publishes the debit
// command. A redelivered request finds the existing instance and is a no-op.
func (o *Orchestrator) HandleTransferRequested(ctx context.Context, req contracts.TransferRequested) error {
	var created *Instance
	err := o.store.Update(ctx, req.TransferID, func(current *Instance) (*Instance, error) {
		if current != nil {
			return nil, nil
		}
		created = &Instance{
			TransferID:    req.TransferID,
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			Amount:        req.Amount,
			Currency:      req.Currency,
			CallbackURL:   req.CallbackURL,
			State:         StateDebitPending,
		}
		return created, nil
	})
	if err != nil {
		return fmt.Errorf("create saga %s: %w", req.TransferID, err)
	}
	if created == nil {
		o.logger.Info("duplicate transfer request ignored",
			zap.String("transfer_id", req.TransferID))
		return nil
	}

	telemetry.SagaTransitions.WithLabelValues(string(StateDebitPending)).Inc()
	o.logger.Info("transfer accepted",
		zap.String("transfer_id", req.TransferID),
		zap.String("from", req.FromAccountID),
		zap.String("to", req.ToAccountID),
		zap.String("amount", req.Amount.String()))

	cmd := created.legCommand(contracts.CommandDebit)
	return o.publish(ctx, []outbound{{cmd.Type.Topic(), cmd.TransactionID, cmd}})
}

// HandleTransferEvent applies a correlated leg event to its saga instance.
// Events with no matching instance, and events with no transition from the
// current state (duplicate deliveries, events after a terminal transition),
// are dropped and logged, never surfaced as errors.
func (o *Orchestrator) HandleTransferEvent(ctx context.Context, ev contracts.TransferEvent) error {
	// The saga's own outcome events share the transfer.events topic.
	if ev.Type == contracts.EventTransferCompleted || ev.Type == contracts.EventTransferFailed {
		return nil
	}

	var (
		msgs []outbound
		next State
	)
	err := o.store.Update(ctx, ev.TransferID, func(current *Instance) (*Instance, error) {
		if current == nil {
			return nil, errUnmatched
		}
		t, ok := transitions[current.State][ev.Type]
		if !ok {
			return nil, errNoTransition
		}
		current.State = t.next
		next = t.next
		msgs = t.actions(current, ev.Reason)
		return current, nil
	})

	switch {
	case errors.Is(err, errUnmatched):
		telemetry.SagaEventsDropped.Inc()
		o.logger.Warn("dropped unmatched saga event",
			zap.String("transfer_id", ev.TransferID),
			zap.String("event", string(ev.Type)))
		return nil
	case errors.Is(err, errNoTransition):
		telemetry.SagaEventsDropped.Inc()
		o.logger.Info("dropped stale or duplicate saga event",
			zap.String("transfer_id", ev.TransferID),
			zap.String("event", string(ev.Type)))
		return nil
	case err != nil:
		return fmt.Errorf("apply %s to saga %s: %w", ev.Type, ev.TransferID, err)
	}

	telemetry.SagaTransitions.WithLabelValues(string(next)).Inc()
	o.logger.Info("saga transition",
		zap.String("transfer_id", ev.TransferID),
		zap.String("event", string(ev.Type)),
		zap.String("to_state", string(next)))

	return o.publish(ctx, msgs)
}

// Recover republishes the pending command for every non-terminal saga whose
// last update is older than age. Deterministic leg transaction ids make the
// republished command safe against double application.
func (o *Orchestrator) Recover(ctx context.Context, age time.Duration) error {
	stale, err := o.store.ListNonTerminal(ctx, time.Now().Add(-age))
	if err != nil {
		return fmt.Errorf("list in-doubt sagas: %w", err)
	}

	for _, inst := range stale {
		cmd, ok := inst.pendingCommand()
		if !ok {
			continue
		}
		o.logger.Info("recovering in-doubt saga",
			zap.String("transfer_id", inst.TransferID),
			zap.String("state", string(inst.State)))
		if err := o.publish(ctx, []outbound{{cmd.Type.Topic(), cmd.TransactionID, cmd}}); err != nil {
			return err
		}
	}
	return nil
}

// RunRecovery re-runs Recover on a fixed interval. A saga whose outbound
// publish failed after the transition was persisted stays non-terminal with
// a stale updated_at; the sweep republishes its pending command without
// waiting for a process restart. Blocks until ctx is cancelled.
func (o *Orchestrator) RunRecovery(ctx context.Context, age, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := o.Recover(ctx, age); err != nil && ctx.Err() == nil {
			o.logger.Error("recovery sweep failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, msgs []outbound) error {
	for _, m := range msgs {
		if err := o.publisher.Publish(ctx, m.topic, m.key, m.payload); err != nil {
			return fmt.Errorf("publish to %s: %w", m.topic, err)
		}
	}
	return nil
}
