package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/contracts"
)

// TransactionHandler accepts debit and credit requests and publishes the
// corresponding command to the bus. Processing is asynchronous; callers poll
// or receive a webhook on completion.
type TransactionHandler struct {
	publisher bus.Publisher
}

// NewTransactionHandler creates a new transaction handler.
func NewTransactionHandler(publisher bus.Publisher) *TransactionHandler {
	return &TransactionHandler{publisher: publisher}
}

// TransactionRequest is the request body for debit and credit endpoints.
type TransactionRequest struct {
	AccountID   string `json:"account_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required,len=3"`
	CallbackURL string `json:"callback_url"`
}

// TransactionResponse acknowledges an accepted command.
type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	AcceptedAt    string `json:"accepted_at"`
}

// CreateDebit handles POST /v1/debits.
func (h *TransactionHandler) CreateDebit(c *gin.Context) {
	h.create(c, contracts.CommandDebit)
}

// CreateCredit handles POST /v1/credits.
func (h *TransactionHandler) CreateCredit(c *gin.Context) {
	h.create(c, contracts.CommandCredit)
}

func (h *TransactionHandler) create(c *gin.Context, commandType contracts.CommandType) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if _, err := uuid.Parse(req.AccountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "Invalid account_id format. Must be a valid UUID.",
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "Invalid amount. Must be a positive decimal.",
		})
		return
	}

	now := time.Now().UTC()
	cmd := contracts.Command{
		SchemaVersion:  contracts.SchemaVersion,
		CommandID:      uuid.New().String(),
		TransactionID:  uuid.New().String(),
		Type:           commandType,
		AccountID:      req.AccountID,
		Amount:         amount,
		Currency:       req.Currency,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CallbackURL:    req.CallbackURL,
		RequestedAt:    now,
	}

	if err := h.publisher.Publish(c.Request.Context(), cmd.Type.Topic(), cmd.TransactionID, cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SERVICE_UNAVAILABLE",
			"message": "Could not accept the command. Please retry.",
		})
		return
	}

	c.JSON(http.StatusAccepted, TransactionResponse{
		TransactionID: cmd.TransactionID,
		Status:        "Pending",
		AcceptedAt:    now.Format(time.RFC3339),
	})
}
