package saga

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
)

func newTestOrchestrator() (*Orchestrator, *MemoryStore, *bus.MemoryPublisher) {
	store := NewMemoryStore()
	publisher := bus.NewMemoryPublisher()
	return NewOrchestrator(store, publisher, zap.NewNop()), store, publisher
}

func newRequest() contracts.TransferRequested {
	return contracts.TransferRequested{
		SchemaVersion: contracts.SchemaVersion,
		TransferID:    uuid.New().String(),
		FromAccountID: uuid.New().String(),
		ToAccountID:   uuid.New().String(),
		Amount:        decimal.NewFromInt(250),
		Currency:      "USD",
		RequestedAt:   time.Now().UTC(),
	}
}

func decodeCommand(t *testing.T, rec bus.Recorded) contracts.Command {
	t.Helper()
	var cmd contracts.Command
	require.NoError(t, json.Unmarshal(rec.Value, &cmd))
	return cmd
}

func decodeEvent(t *testing.T, rec bus.Recorded) contracts.TransferEvent {
	t.Helper()
	var ev contracts.TransferEvent
	require.NoError(t, json.Unmarshal(rec.Value, &ev))
	return ev
}

func TestTransferRequestedPublishesDebit(t *testing.T) {
	o, store, publisher := newTestOrchestrator()
	req := newRequest()

	require.NoError(t, o.HandleTransferRequested(context.Background(), req))

	inst, ok := store.Get(req.TransferID)
	require.True(t, ok)
	assert.Equal(t, StateDebitPending, inst.State)

	debits := publisher.MessagesOn(contracts.TopicDebitCommands)
	require.Len(t, debits, 1)
	cmd := decodeCommand(t, debits[0])
	assert.Equal(t, contracts.CommandDebit, cmd.Type)
	assert.Equal(t, req.FromAccountID, cmd.AccountID)
	assert.Equal(t, req.TransferID, cmd.TransferID)
	assert.True(t, cmd.Amount.Equal(req.Amount))
}

func TestDuplicateTransferRequestIsNoOp(t *testing.T) {
	o, _, publisher := newTestOrchestrator()
	req := newRequest()

	require.NoError(t, o.HandleTransferRequested(context.Background(), req))
	require.NoError(t, o.HandleTransferRequested(context.Background(), req))

	assert.Len(t, publisher.MessagesOn(contracts.TopicDebitCommands), 1)
}

func TestHappyPathExactlyOneDebitAndCredit(t *testing.T) {
	o, store, publisher := newTestOrchestrator()
	req := newRequest()
	ctx := context.Background()

	require.NoError(t, o.HandleTransferRequested(ctx, req))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type: contracts.EventDebitCompleted, TransferID: req.TransferID,
	}))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type: contracts.EventCreditCompleted, TransferID: req.TransferID,
	}))

	inst, _ := store.Get(req.TransferID)
	assert.Equal(t, StateCreditCompleted, inst.State)
	assert.True(t, inst.State.Terminal())

	assert.Len(t, publisher.MessagesOn(contracts.TopicDebitCommands), 1)
	credits := publisher.MessagesOn(contracts.TopicCreditCommands)
	require.Len(t, credits, 1)
	cmd := decodeCommand(t, credits[0])
	assert.Equal(t, req.ToAccountID, cmd.AccountID)

	events := publisher.MessagesOn(contracts.TopicTransferEvents)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventTransferCompleted, decodeEvent(t, events[0]).Type)
}

func TestRedeliveredLegEventIsDropped(t *testing.T) {
	o, _, publisher := newTestOrchestrator()
	req := newRequest()
	ctx := context.Background()

	require.NoError(t, o.HandleTransferRequested(ctx, req))
	ev := contracts.TransferEvent{Type: contracts.EventDebitCompleted, TransferID: req.TransferID}
	require.NoError(t, o.HandleTransferEvent(ctx, ev))
	require.NoError(t, o.HandleTransferEvent(ctx, ev))

	// The duplicate must not trigger a second credit command.
	assert.Len(t, publisher.MessagesOn(contracts.TopicCreditCommands), 1)
}

func TestUnmatchedEventIsDropped(t *testing.T) {
	o, _, publisher := newTestOrchestrator()

	err := o.HandleTransferEvent(context.Background(), contracts.TransferEvent{
		Type: contracts.EventDebitCompleted, TransferID: uuid.New().String(),
	})
	require.NoError(t, err)
	assert.Empty(t, publisher.Messages())
}

func TestDebitFailureEndsSagaWithoutCredit(t *testing.T) {
	o, store, publisher := newTestOrchestrator()
	req := newRequest()
	ctx := context.Background()

	require.NoError(t, o.HandleTransferRequested(ctx, req))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type:       contracts.EventDebitFailed,
		TransferID: req.TransferID,
		Reason:     contracts.ReasonInsufficientFunds,
	}))

	inst, _ := store.Get(req.TransferID)
	assert.Equal(t, StateFailed, inst.State)
	assert.Empty(t, publisher.MessagesOn(contracts.TopicCreditCommands))

	events := publisher.MessagesOn(contracts.TopicTransferEvents)
	require.Len(t, events, 1)
	ev := decodeEvent(t, events[0])
	assert.Equal(t, contracts.EventTransferFailed, ev.Type)
	assert.Equal(t, contracts.ReasonInsufficientFunds, ev.Reason)
}

func TestCreditFailureCompensatesWithReversal(t *testing.T) {
	o, store, publisher := newTestOrchestrator()
	req := newRequest()
	ctx := context.Background()

	require.NoError(t, o.HandleTransferRequested(ctx, req))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type: contracts.EventDebitCompleted, TransferID: req.TransferID,
	}))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type:       contracts.EventCreditFailed,
		TransferID: req.TransferID,
		Reason:     contracts.ReasonAccountNotFound,
	}))

	inst, _ := store.Get(req.TransferID)
	assert.Equal(t, StateFailed, inst.State)

	reversals := publisher.MessagesOn(contracts.TopicReverseDebitCommands)
	require.Len(t, reversals, 1)
	cmd := decodeCommand(t, reversals[0])
	assert.Equal(t, contracts.CommandReverseDebit, cmd.Type)
	assert.Equal(t, req.FromAccountID, cmd.AccountID)

	// The reversal undoes the debit recorded under the debit leg's id.
	debit := decodeCommand(t, publisher.MessagesOn(contracts.TopicDebitCommands)[0])
	assert.Equal(t, debit.TransactionID, cmd.OriginalTransactionID)

	events := publisher.MessagesOn(contracts.TopicTransferEvents)
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventTransferFailed, decodeEvent(t, events[0]).Type)
}

func TestOwnOutcomeEventsAreIgnored(t *testing.T) {
	o, _, publisher := newTestOrchestrator()

	require.NoError(t, o.HandleTransferEvent(context.Background(), contracts.TransferEvent{
		Type: contracts.EventTransferCompleted, TransferID: uuid.New().String(),
	}))
	require.NoError(t, o.HandleTransferEvent(context.Background(), contracts.TransferEvent{
		Type: contracts.EventTransferFailed, TransferID: uuid.New().String(),
	}))
	assert.Empty(t, publisher.Messages())
}

func TestLegCommandsCarryCallbackURL(t *testing.T) {
	o, _, publisher := newTestOrchestrator()
	req := newRequest()
	req.CallbackURL = "https://client.example/hook"
	ctx := context.Background()

	require.NoError(t, o.HandleTransferRequested(ctx, req))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type: contracts.EventDebitCompleted, TransferID: req.TransferID,
	}))

	// Both legs must carry the caller's URL so their completion events
	// reach the notifier.
	debit := decodeCommand(t, publisher.MessagesOn(contracts.TopicDebitCommands)[0])
	assert.Equal(t, req.CallbackURL, debit.CallbackURL)
	credit := decodeCommand(t, publisher.MessagesOn(contracts.TopicCreditCommands)[0])
	assert.Equal(t, req.CallbackURL, credit.CallbackURL)
}

func TestLegTransactionIDsAreDeterministic(t *testing.T) {
	inst := &Instance{
		TransferID:    uuid.New().String(),
		FromAccountID: uuid.New().String(),
		ToAccountID:   uuid.New().String(),
		Amount:        decimal.NewFromInt(10),
		Currency:      "EUR",
	}

	first := inst.legCommand(contracts.CommandDebit)
	second := inst.legCommand(contracts.CommandDebit)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.NotEqual(t, first.CommandID, second.CommandID)

	credit := inst.legCommand(contracts.CommandCredit)
	assert.NotEqual(t, first.TransactionID, credit.TransactionID)
}

func TestRecoverRepublishesPendingCommands(t *testing.T) {
	store := NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	store.now = func() time.Time { return past }

	publisher := bus.NewMemoryPublisher()
	o := NewOrchestrator(store, publisher, zap.NewNop())
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, o.HandleTransferRequested(ctx, req))

	done := newRequest()
	require.NoError(t, o.HandleTransferRequested(ctx, done))
	require.NoError(t, o.HandleTransferEvent(ctx, contracts.TransferEvent{
		Type: contracts.EventDebitFailed, TransferID: done.TransferID,
	}))

	before := len(publisher.MessagesOn(contracts.TopicDebitCommands))
	require.NoError(t, o.Recover(ctx, time.Minute))

	// Only the in-doubt saga gets its debit republished; terminal sagas are
	// left alone.
	debits := publisher.MessagesOn(contracts.TopicDebitCommands)
	require.Len(t, debits, before+1)
	recovered := decodeCommand(t, debits[len(debits)-1])
	assert.Equal(t, req.TransferID, recovered.TransferID)

	original := decodeCommand(t, debits[0])
	assert.Equal(t, original.TransactionID, recovered.TransactionID)
}

func TestRecoveryLoopRepublishesWithoutRestart(t *testing.T) {
	store := NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	store.now = func() time.Time { return past }

	publisher := bus.NewMemoryPublisher()
	o := NewOrchestrator(store, publisher, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := newRequest()
	require.NoError(t, o.HandleTransferRequested(ctx, req))

	go o.RunRecovery(ctx, time.Minute, 5*time.Millisecond)

	// The sweep republishes the stale debit without a process restart.
	assert.Eventually(t, func() bool {
		return len(publisher.MessagesOn(contracts.TopicDebitCommands)) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestHandleRequestedMessageRejectsBadPayloads(t *testing.T) {
	o, _, _ := newTestOrchestrator()

	err := o.HandleRequestedMessage(context.Background(), bus.Message{Value: []byte("not json")})
	assert.Error(t, err)

	payload, _ := json.Marshal(contracts.TransferRequested{SchemaVersion: contracts.SchemaVersion})
	err = o.HandleRequestedMessage(context.Background(), bus.Message{Value: payload})
	assert.Error(t, err)
}
