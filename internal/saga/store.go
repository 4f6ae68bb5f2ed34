package saga

import (
	"context"
	"sync"
	"time"
)

// Store persists saga instances. Implementations must serialize Update
// calls per transfer id; cross-transfer operations never block each other.
type Store interface {
	// Update runs fn under an exclusive per-transfer lock. fn receives the
	// current instance (nil when absent) and returns the instance to
	// persist, or nil for no change. The update is durable before Update
	// returns.
	Update(ctx context.Context, transferID string, fn func(current *Instance) (*Instance, error)) error

	// ListNonTerminal returns instances not yet in a terminal state whose
	// last update is older than the cutoff.
	ListNonTerminal(ctx context.Context, updatedBefore time.Time) ([]Instance, error)
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]Instance
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]Instance),
		now:       time.Now,
	}
}

func (s *MemoryStore) Update(_ context.Context, transferID string, fn func(*Instance) (*Instance, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Instance
	if inst, ok := s.instances[transferID]; ok {
		copied := inst
		current = &copied
	}

	updated, err := fn(current)
	if err != nil {
		return err
	}
	if updated != nil {
		updated.UpdatedAt = s.now()
		s.instances[transferID] = *updated
	}
	return nil
}

func (s *MemoryStore) ListNonTerminal(_ context.Context, updatedBefore time.Time) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Instance
	for _, inst := range s.instances {
		if !inst.State.Terminal() && inst.UpdatedAt.Before(updatedBefore) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Get returns the stored instance, for tests.
func (s *MemoryStore) Get(transferID string) (Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[transferID]
	return inst, ok
}
