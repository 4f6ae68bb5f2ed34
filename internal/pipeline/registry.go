package pipeline

import (
	"context"

	"github.com/chungtau/ledger-payments/internal/contracts"
)

// Processor applies one transaction type. Implementations must be
// idempotent on the transaction id: re-processing a redelivered command
// returns the previously recorded result.
type Processor interface {
	Process(ctx context.Context, cmd contracts.Command) (contracts.TransactionResult, error)
}

// Registry maps command types to processors. It is populated explicitly at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	processors map[contracts.CommandType]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[contracts.CommandType]Processor)}
}

// Register binds a processor to a command type, replacing any previous entry.
func (r *Registry) Register(t contracts.CommandType, p Processor) {
	r.processors[t] = p
}

// Resolve returns the processor for a command type.
func (r *Registry) Resolve(t contracts.CommandType) (Processor, bool) {
	p, ok := r.processors[t]
	return p, ok
}
