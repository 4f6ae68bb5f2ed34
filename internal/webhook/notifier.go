// Package webhook delivers completion notifications to caller-supplied URLs.
// Delivery is best-effort and fully isolated from the transactional path: a
// failed notification is logged and counted, never propagated.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

// Options tune the notifier.
type Options struct {
	Timeout time.Duration
	// MaxAttempts bounds delivery attempts per event. Default 1: a single
	// best-effort attempt, fire-and-forget.
	MaxAttempts int
	Backoff     time.Duration
}

// Notifier consumes TransactionCompleted events and POSTs them to the
// callback URL. A circuit breaker sheds load from a consistently failing
// receiver so the consumer keeps draining its topic.
type Notifier struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	opts    Options
	logger  *zap.Logger
}

func NewNotifier(opts Options, logger *zap.Logger) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}

	log := logger.Named("webhook")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Notifier{
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		opts:    opts,
		logger:  log,
	}
}

// HandleCompletion is the bus.HandlerFunc for the completion topic. It
// always returns nil for delivery faults: notification failures must never
// wedge or corrupt the transactional flow.
func (n *Notifier) HandleCompletion(ctx context.Context, msg bus.Message) error {
	var event contracts.TransactionCompleted
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		n.logger.Error("undecodable completion event", zap.Error(err))
		return nil
	}
	if event.CallbackURL == "" {
		return nil
	}

	if err := n.deliver(ctx, event); err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("failed").Inc()
		n.logger.Warn("webhook delivery failed",
			zap.String("transaction_id", event.TransactionID),
			zap.String("url", event.CallbackURL),
			zap.Error(err))
		return nil
	}

	telemetry.WebhookDeliveries.WithLabelValues("delivered").Inc()
	return nil
}

func (n *Notifier) deliver(ctx context.Context, event contracts.TransactionCompleted) error {
	payload, err := json.Marshal(contracts.WebhookPayload{
		TransactionID: event.TransactionID,
		Status:        event.Status,
		Amount:        event.Amount,
		AccountID:     event.AccountID,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= n.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * n.opts.Backoff):
			}
		}

		start := time.Now()
		_, lastErr = n.breaker.Execute(func() (any, error) {
			return nil, n.post(ctx, event.CallbackURL, payload)
		})
		telemetry.WebhookDuration.Observe(time.Since(start).Seconds())
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("receiver returned %s", resp.Status)
	}
	return nil
}
