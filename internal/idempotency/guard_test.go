package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGuard(store Store, opts Options) *Guard {
	return NewGuard(store, opts, zap.NewNop())
}

func TestExecuteReplaysStoredResponse(t *testing.T) {
	guard := newTestGuard(NewMemoryStore(), Options{})
	ctx := context.Background()

	var calls int
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"id":"txn-1"}`), nil
	}

	first, replayed, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := guard.Execute(ctx, "key-1", op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestExecuteEmptyKeyBypassesGuard(t *testing.T) {
	guard := newTestGuard(NewMemoryStore(), Options{})
	ctx := context.Background()

	var calls int
	op := func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}

	_, replayed, err := guard.Execute(ctx, "", op)
	require.NoError(t, err)
	assert.False(t, replayed)

	_, _, err = guard.Execute(ctx, "", op)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecuteFailureIsNotCached(t *testing.T) {
	guard := newTestGuard(NewMemoryStore(), Options{})
	ctx := context.Background()

	opErr := errors.New("downstream unavailable")
	_, _, err := guard.Execute(ctx, "key-1", func(context.Context) ([]byte, error) {
		return nil, opErr
	})
	require.ErrorIs(t, err, opErr)

	// The reservation was released, so a retry executes again.
	response, replayed, err := guard.Execute(ctx, "key-1", func(context.Context) ([]byte, error) {
		return []byte("recovered"), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []byte("recovered"), response)
}

func TestExecuteConflictRejectsWhileInFlight(t *testing.T) {
	store := NewMemoryStore()
	guard := newTestGuard(store, Options{Conflict: ConflictReject})
	ctx := context.Background()

	claimed, _, err := store.Reserve(ctx, "key-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	_, _, err = guard.Execute(ctx, "key-1", func(context.Context) ([]byte, error) {
		return []byte("never"), nil
	})
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestExecuteConflictWaitReplaysWinner(t *testing.T) {
	store := NewMemoryStore()
	guard := newTestGuard(store, Options{Conflict: ConflictWait, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	claimed, _, err := store.Reserve(ctx, "key-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.Complete(ctx, "key-1", []byte("winner"), time.Minute)
	}()

	response, replayed, err := guard.Execute(ctx, "key-1", func(context.Context) ([]byte, error) {
		return []byte("loser"), nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, []byte("winner"), response)
}

func TestExecuteConcurrentCallersSingleExecution(t *testing.T) {
	guard := newTestGuard(NewMemoryStore(), Options{Conflict: ConflictWait, PollInterval: time.Millisecond})
	ctx := context.Background()

	var executions int32
	op := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&executions, 1)
		time.Sleep(10 * time.Millisecond)
		return []byte("once"), nil
	}

	const callers = 8
	responses := make([][]byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			response, _, err := guard.Execute(ctx, "key-1", op)
			assert.NoError(t, err)
			responses[i] = response
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
	for _, r := range responses {
		assert.Equal(t, []byte("once"), r)
	}
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, string, time.Duration) (bool, *Record, error) {
	return false, nil, errors.New("connection refused")
}
func (failingStore) Get(context.Context, string) (*Record, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Complete(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (failingStore) Release(context.Context, string) error {
	return errors.New("connection refused")
}

func TestExecuteFailClosedRejectsOnStoreError(t *testing.T) {
	guard := newTestGuard(failingStore{}, Options{Failure: FailClosed})

	_, _, err := guard.Execute(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		return []byte("never"), nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestExecuteFailOpenRunsWithoutDeduplication(t *testing.T) {
	guard := newTestGuard(failingStore{}, Options{Failure: FailOpen})

	response, replayed, err := guard.Execute(context.Background(), "key-1", func(context.Context) ([]byte, error) {
		return []byte("unguarded"), nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []byte("unguarded"), response)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Complete(ctx, "key-1", []byte("cached"), time.Minute))

	now = now.Add(2 * time.Minute)
	record, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, record)

	claimed, _, err := store.Reserve(ctx, "key-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}
