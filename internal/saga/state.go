// Package saga coordinates the debit and credit legs of a transfer with an
// explicit finite-state machine, correlated by transfer id. State is
// persisted before any outbound publish so a crash between transition and
// publish is recoverable.
package saga

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/contracts"
)

// State of a transfer saga instance.
type State string

const (
	StateInitiated       State = "Initiated"
	StateDebitPending    State = "DebitPending"
	StateCreditPending   State = "CreditPending"
	StateCreditCompleted State = "CreditCompleted"
	StateFailed          State = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCreditCompleted || s == StateFailed
}

// Instance is one transfer saga, keyed by TransferID.
type Instance struct {
	TransferID    string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	CallbackURL   string
	State         State
	UpdatedAt     time.Time
}

// outbound is a message to publish after a transition has been persisted.
type outbound struct {
	topic   string
	key     string
	payload any
}

// transition is one row of the state machine table.
type transition struct {
	next    State
	actions func(inst *Instance, reason contracts.FailureReason) []outbound
}

// transitions is the full state machine: state × event → action, next state.
// An event with no entry for the instance's current state is a duplicate or
// stale delivery and is dropped without effect.
var transitions = map[State]map[contracts.TransferEventType]transition{
	StateDebitPending: {
		contracts.EventDebitCompleted: {
			next: StateCreditPending,
			actions: func(inst *Instance, _ contracts.FailureReason) []outbound {
				cmd := inst.legCommand(contracts.CommandCredit)
				return []outbound{{cmd.Type.Topic(), cmd.TransactionID, cmd}}
			},
		},
		contracts.EventDebitFailed: {
			next: StateFailed,
			actions: func(inst *Instance, reason contracts.FailureReason) []outbound {
				return []outbound{transferFailed(inst, reason)}
			},
		},
	},
	StateCreditPending: {
		contracts.EventCreditCompleted: {
			next: StateCreditCompleted,
			actions: func(inst *Instance, _ contracts.FailureReason) []outbound {
				return []outbound{{
					contracts.TopicTransferEvents,
					inst.TransferID,
					contracts.TransferEvent{
						SchemaVersion: contracts.SchemaVersion,
						Type:          contracts.EventTransferCompleted,
						TransferID:    inst.TransferID,
						OccurredAt:    time.Now().UTC(),
					},
				}}
			},
		},
		contracts.EventCreditFailed: {
			next: StateFailed,
			actions: func(inst *Instance, reason contracts.FailureReason) []outbound {
				// The debit already applied; compensate by reversing it.
				cmd := inst.legCommand(contracts.CommandReverseDebit)
				return []outbound{
					{cmd.Type.Topic(), cmd.TransactionID, cmd},
					transferFailed(inst, reason),
				}
			},
		},
	},
}

func transferFailed(inst *Instance, reason contracts.FailureReason) outbound {
	return outbound{
		contracts.TopicTransferEvents,
		inst.TransferID,
		contracts.TransferEvent{
			SchemaVersion: contracts.SchemaVersion,
			Type:          contracts.EventTransferFailed,
			TransferID:    inst.TransferID,
			Reason:        reason,
			OccurredAt:    time.Now().UTC(),
		},
	}
}

// legCommand builds the command for one leg of the transfer. Transaction ids
// are derived deterministically from the transfer id, so a republished
// command is deduplicated by the worker's transaction record.
func (inst *Instance) legCommand(t contracts.CommandType) contracts.Command {
	accountID := inst.FromAccountID
	if t == contracts.CommandCredit {
		accountID = inst.ToAccountID
	}

	cmd := contracts.Command{
		SchemaVersion: contracts.SchemaVersion,
		CommandID:     uuid.New().String(),
		TransactionID: legTransactionID(inst.TransferID, t),
		TransferID:    inst.TransferID,
		Type:          t,
		AccountID:     accountID,
		Amount:        inst.Amount,
		Currency:      inst.Currency,
		CallbackURL:   inst.CallbackURL,
		RequestedAt:   time.Now().UTC(),
	}
	if t == contracts.CommandReverseDebit {
		cmd.OriginalTransactionID = legTransactionID(inst.TransferID, contracts.CommandDebit)
	}
	return cmd
}

func legTransactionID(transferID string, t contracts.CommandType) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("transfer:"+transferID+":"+string(t))).String()
}

// pendingCommand re-derives the outbound command implied by the persisted
// state. Used by startup recovery when a crash separated the persisted
// transition from its publish.
func (inst *Instance) pendingCommand() (contracts.Command, bool) {
	switch inst.State {
	case StateDebitPending:
		return inst.legCommand(contracts.CommandDebit), true
	case StateCreditPending:
		return inst.legCommand(contracts.CommandCredit), true
	default:
		return contracts.Command{}, false
	}
}
