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

// TransferHandler accepts transfer requests and hands them to the saga
// orchestrator via the bus.
type TransferHandler struct {
	publisher bus.Publisher
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(publisher bus.Publisher) *TransferHandler {
	return &TransferHandler{publisher: publisher}
}

// TransferRequest is the request body for creating a transfer.
type TransferRequest struct {
	FromAccountID string `json:"from_account_id" binding:"required"`
	ToAccountID   string `json:"to_account_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Currency      string `json:"currency" binding:"required,len=3"`
	CallbackURL   string `json:"callback_url"`
}

// TransferResponse acknowledges an accepted transfer.
type TransferResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	AcceptedAt string `json:"accepted_at"`
}

// Create handles POST /v1/transfers.
func (h *TransferHandler) Create(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if _, err := uuid.Parse(req.FromAccountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "Invalid from_account_id format. Must be a valid UUID.",
		})
		return
	}
	if _, err := uuid.Parse(req.ToAccountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "Invalid to_account_id format. Must be a valid UUID.",
		})
		return
	}
	if req.FromAccountID == req.ToAccountID {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "Cannot transfer to the same account.",
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
	requested := contracts.TransferRequested{
		SchemaVersion: contracts.SchemaVersion,
		TransferID:    uuid.New().String(),
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        amount,
		Currency:      req.Currency,
		CallbackURL:   req.CallbackURL,
		RequestedAt:   now,
	}

	if err := h.publisher.Publish(c.Request.Context(), contracts.TopicTransferRequested, requested.TransferID, requested); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SERVICE_UNAVAILABLE",
			"message": "Could not accept the transfer. Please retry.",
		})
		return
	}

	c.JSON(http.StatusAccepted, TransferResponse{
		TransferID: requested.TransferID,
		Status:     "Pending",
		AcceptedAt: now.Format(time.RFC3339),
	})
}
