// Package idempotency deduplicates client-visible operations by a
// caller-supplied key. At most one caller executes the underlying operation;
// the others replay its stored result or are rejected while it is in flight.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/telemetry"
)

var (
	// ErrInFlight signals that another caller holds the reservation for the
	// key and its operation has not completed yet.
	ErrInFlight = errors.New("idempotency: operation in flight for key")

	// ErrStoreUnavailable signals that the backing store could not be
	// reached and the guard is configured to fail closed.
	ErrStoreUnavailable = errors.New("idempotency: store unavailable")
)

// State of a stored record.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Record is what the store holds per key.
type Record struct {
	State    State  `json:"state"`
	Response []byte `json:"response,omitempty"`
}

// Store is the external key-value backend. Reserve must be atomic: exactly
// one concurrent caller may claim an absent key.
type Store interface {
	// Reserve claims key with a pending marker. When the key already
	// exists, claimed is false and existing holds the current record.
	Reserve(ctx context.Context, key string, ttl time.Duration) (claimed bool, existing *Record, err error)
	// Get returns the record for key, or nil when absent.
	Get(ctx context.Context, key string) (*Record, error)
	// Complete stores the serialized response under key.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops the reservation so a failed operation can be retried.
	Release(ctx context.Context, key string) error
}

// ConflictPolicy decides what happens when a second caller arrives while the
// first caller's operation is still running.
type ConflictPolicy int

const (
	// ConflictReject returns ErrInFlight immediately. Default.
	ConflictReject ConflictPolicy = iota
	// ConflictWait polls until the first caller completes, then replays.
	ConflictWait
)

// FailurePolicy decides behavior when the store is unreachable.
type FailurePolicy int

const (
	// FailClosed rejects the request; double effects are worse than
	// unavailability. Default.
	FailClosed FailurePolicy = iota
	// FailOpen executes the operation without deduplication.
	FailOpen
)

// Options tune a Guard.
type Options struct {
	TTL          time.Duration
	Conflict     ConflictPolicy
	Failure      FailurePolicy
	PollInterval time.Duration
}

// Guard wraps operations with key-based deduplication.
type Guard struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewGuard creates a guard. A zero TTL defaults to 10 minutes.
func NewGuard(store Store, opts Options, logger *zap.Logger) *Guard {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	return &Guard{store: store, opts: opts, logger: logger.Named("idempotency")}
}

// Operation produces the serializable response that gets cached under the key.
type Operation func(ctx context.Context) ([]byte, error)

// Execute runs op at most once per key. An empty key disables the guard.
// replayed is true when the response came from the cache; replayed responses
// are byte-identical to the original. Failed operations are not cached, so a
// retry under the same key may execute again. When op succeeds but storing
// its response fails, the key stays pending until the TTL expires: the
// caller still gets the response, while duplicates are treated as in-flight
// for the remainder of the TTL rather than replayed.
func (g *Guard) Execute(ctx context.Context, key string, op Operation) (response []byte, replayed bool, err error) {
	if key == "" {
		response, err = op(ctx)
		return response, false, err
	}

	for {
		claimed, existing, err := g.store.Reserve(ctx, key, g.opts.TTL)
		if err != nil {
			if g.opts.Failure == FailOpen {
				g.logger.Warn("store unavailable, failing open", zap.Error(err))
				response, err = op(ctx)
				return response, false, err
			}
			return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		if claimed {
			return g.run(ctx, key, op)
		}

		if existing != nil && existing.State == StateCompleted {
			telemetry.IdempotencyHits.WithLabelValues("replayed").Inc()
			return existing.Response, true, nil
		}

		// Reservation held elsewhere, result not stored yet.
		if g.opts.Conflict == ConflictReject {
			telemetry.IdempotencyHits.WithLabelValues("rejected").Inc()
			return nil, false, ErrInFlight
		}

		record, err := g.await(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if record != nil {
			telemetry.IdempotencyHits.WithLabelValues("replayed").Inc()
			return record.Response, true, nil
		}
		// The in-flight operation failed and released the key; race for
		// the reservation again.
	}
}

func (g *Guard) run(ctx context.Context, key string, op Operation) ([]byte, bool, error) {
	response, err := op(ctx)
	if err != nil {
		if relErr := g.store.Release(ctx, key); relErr != nil {
			g.logger.Warn("failed to release reservation",
				zap.String("key", key), zap.Error(relErr))
		}
		return nil, false, err
	}

	if err := g.store.Complete(ctx, key, response, g.opts.TTL); err != nil {
		// The operation already took effect; surface the response anyway
		// so the caller is not told to retry a request that succeeded.
		g.logger.Error("failed to store idempotency record",
			zap.String("key", key), zap.Error(err))
	}
	return response, false, nil
}

// await polls until the record under key completes or disappears. A nil
// record with nil error means the reservation was released.
func (g *Guard) await(ctx context.Context, key string) (*Record, error) {
	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		record, err := g.store.Get(ctx, key)
		if err != nil {
			if g.opts.Failure == FailOpen {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if record == nil {
			return nil, nil
		}
		if record.State == StateCompleted {
			return record, nil
		}
	}
}
