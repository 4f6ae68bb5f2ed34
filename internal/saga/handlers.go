package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
)

// HandleRequestedMessage is the bus.HandlerFunc for the transfer request topic.
func (o *Orchestrator) HandleRequestedMessage(ctx context.Context, msg bus.Message) error {
	var req contracts.TransferRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("decode transfer request: %w", err)
	}
	if req.SchemaVersion > contracts.SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", req.SchemaVersion)
	}
	if req.TransferID == "" {
		return fmt.Errorf("transfer request without transfer id")
	}
	return o.HandleTransferRequested(ctx, req)
}

// HandleEventMessage is the bus.HandlerFunc for the transfer events topic.
func (o *Orchestrator) HandleEventMessage(ctx context.Context, msg bus.Message) error {
	var ev contracts.TransferEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("decode transfer event: %w", err)
	}
	if ev.SchemaVersion > contracts.SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", ev.SchemaVersion)
	}
	return o.HandleTransferEvent(ctx, ev)
}
