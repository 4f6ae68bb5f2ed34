package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is stamped on every published payload so consumers can
// reject messages they do not understand.
const SchemaVersion = 1

// Kafka topics. Command topics are consumed with competing-consumer
// semantics; event topics fan out to every interested service group.
const (
	TopicTransferRequested    = "transfer.requested"
	TopicDebitCommands        = "commands.debit"
	TopicCreditCommands       = "commands.credit"
	TopicReverseDebitCommands = "commands.reverse-debit"
	TopicTransferEvents       = "transfer.events"
	TopicTransactionCompleted = "transaction.completed"
)

// CommandType selects the processor that handles a command.
type CommandType string

const (
	CommandDebit        CommandType = "Debit"
	CommandCredit       CommandType = "Credit"
	CommandReverseDebit CommandType = "ReverseDebit"
)

// Topic returns the command topic a command type is published on.
func (t CommandType) Topic() string {
	switch t {
	case CommandCredit:
		return TopicCreditCommands
	case CommandReverseDebit:
		return TopicReverseDebitCommands
	default:
		return TopicDebitCommands
	}
}

// Command is a money-movement instruction. Commands are immutable once
// published; delivery may repeat but processing must not.
type Command struct {
	SchemaVersion int             `json:"schemaVersion"`
	CommandID     string          `json:"commandId"`
	TransactionID string          `json:"transactionId"`
	TransferID    string          `json:"transferId,omitempty"`
	Type          CommandType     `json:"type"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	// OriginalTransactionID links a ReverseDebit to the debit it undoes.
	OriginalTransactionID string    `json:"originalTransactionId,omitempty"`
	IdempotencyKey        string    `json:"idempotencyKey,omitempty"`
	CallbackURL           string    `json:"callbackUrl,omitempty"`
	RequestedAt           time.Time `json:"requestedAt"`
}

// Outcome is the terminal status of a processed transaction.
type Outcome string

const (
	OutcomeCompleted Outcome = "Completed"
	OutcomeFailed    Outcome = "Failed"
)

// FailureReason classifies why a transaction failed. Business-rule failures
// are terminal and never retried; transient infrastructure failures are
// retried by the transport's redelivery mechanism.
type FailureReason string

const (
	ReasonValidation            FailureReason = "ValidationError"
	ReasonInsufficientFunds     FailureReason = "InsufficientFunds"
	ReasonAccountNotFound       FailureReason = "AccountNotFound"
	ReasonNoProcessorRegistered FailureReason = "NoProcessorRegistered"
	ReasonInternal              FailureReason = "InternalError"
)

// TransactionResult is produced once per processed command. Terminal; never
// mutated after publication.
type TransactionResult struct {
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Outcome       Outcome         `json:"outcome"`
	FailureReason FailureReason   `json:"failureReason,omitempty"`
}

// Failed reports whether the result is a failure.
func (r TransactionResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// TransactionCompleted is published on every terminal result and drives the
// webhook notifier and the audit trail.
type TransactionCompleted struct {
	SchemaVersion int             `json:"schemaVersion"`
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        Outcome         `json:"status"`
	FailureReason FailureReason   `json:"failureReason,omitempty"`
	CallbackURL   string          `json:"callbackUrl,omitempty"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// TransferRequested starts a transfer saga. TransferID doubles as the saga
// correlation id.
type TransferRequested struct {
	SchemaVersion int             `json:"schemaVersion"`
	TransferID    string          `json:"transferId"`
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CallbackURL   string          `json:"callbackUrl,omitempty"`
	RequestedAt   time.Time       `json:"requestedAt"`
}

// TransferEventType identifies a transfer leg event or saga outcome.
type TransferEventType string

const (
	EventDebitCompleted    TransferEventType = "DebitCompleted"
	EventDebitFailed       TransferEventType = "DebitFailed"
	EventCreditCompleted   TransferEventType = "CreditCompleted"
	EventCreditFailed      TransferEventType = "CreditFailed"
	EventDebitReversed     TransferEventType = "DebitReversed"
	EventTransferCompleted TransferEventType = "TransferCompleted"
	EventTransferFailed    TransferEventType = "TransferFailed"
)

// TransferEvent correlates a leg outcome back to a saga instance by
// TransferID. Events with no matching instance are dropped as stale.
type TransferEvent struct {
	SchemaVersion int               `json:"schemaVersion"`
	Type          TransferEventType `json:"type"`
	TransferID    string            `json:"transferId"`
	Reason        FailureReason     `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// WebhookPayload is the body POSTed to a caller-supplied callback URL.
type WebhookPayload struct {
	TransactionID string          `json:"transactionId"`
	Status        Outcome         `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	AccountID     string          `json:"accountId"`
}
