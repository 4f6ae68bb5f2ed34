package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
)

func completionMessage(t *testing.T, event contracts.TransactionCompleted) bus.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return bus.Message{Topic: contracts.TopicTransactionCompleted, Value: value}
}

func TestHandleCompletionDeliversPayload(t *testing.T) {
	var received contracts.WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(Options{Timeout: time.Second}, zap.NewNop())
	event := contracts.TransactionCompleted{
		TransactionID: "txn-1",
		AccountID:     "acc-1",
		Amount:        decimal.NewFromInt(75),
		Currency:      "USD",
		Status:        contracts.OutcomeCompleted,
		CallbackURL:   server.URL,
	}

	require.NoError(t, n.HandleCompletion(context.Background(), completionMessage(t, event)))
	assert.Equal(t, "txn-1", received.TransactionID)
	assert.Equal(t, contracts.OutcomeCompleted, received.Status)
	assert.True(t, received.Amount.Equal(event.Amount))
}

func TestHandleCompletionFailureIsIsolated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewNotifier(Options{Timeout: time.Second}, zap.NewNop())
	event := contracts.TransactionCompleted{
		TransactionID: "txn-1",
		Status:        contracts.OutcomeFailed,
		CallbackURL:   server.URL,
	}

	// Receiver errors never propagate to the consumer.
	assert.NoError(t, n.HandleCompletion(context.Background(), completionMessage(t, event)))
}

func TestHandleCompletionSkipsWithoutCallback(t *testing.T) {
	n := NewNotifier(Options{}, zap.NewNop())
	event := contracts.TransactionCompleted{TransactionID: "txn-1"}

	assert.NoError(t, n.HandleCompletion(context.Background(), completionMessage(t, event)))
}

func TestHandleCompletionUndecodableEventIsDropped(t *testing.T) {
	n := NewNotifier(Options{}, zap.NewNop())
	assert.NoError(t, n.HandleCompletion(context.Background(), bus.Message{Value: []byte("not json")}))
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(Options{
		Timeout:     time.Second,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	}, zap.NewNop())

	err := n.deliver(context.Background(), contracts.TransactionCompleted{
		TransactionID: "txn-1",
		CallbackURL:   server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
