package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chungtau/ledger-payments/internal/middleware"
	"github.com/chungtau/ledger-payments/internal/store"
)

// AccountHandler serves account creation and the balance view. Balances are
// read-only here; only the transaction processors mutate them.
type AccountHandler struct {
	store *store.Store
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(s *store.Store) *AccountHandler {
	return &AccountHandler{store: s}
}

// CreateAccountRequest is the request body for creating an account.
type CreateAccountRequest struct {
	Currency       string `json:"currency" binding:"required,len=3"`
	InitialBalance string `json:"initial_balance"`
}

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Version   int64  `json:"version"`
}

// Create handles POST /v1/accounts.
func (h *AccountHandler) Create(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	initial := decimal.Zero
	if req.InitialBalance != "" {
		var err error
		initial, err = decimal.NewFromString(req.InitialBalance)
		if err != nil || initial.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_ARGUMENT",
				"message": "Invalid initial_balance. Must be a non-negative decimal.",
			})
			return
		}
	}

	account, err := h.store.CreateAccount(c.Request.Context(), middleware.GetUserID(c), req.Currency, initial)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Failed to create account",
		})
		return
	}

	c.JSON(http.StatusCreated, AccountResponse{
		AccountID: account.ID,
		UserID:    account.UserID,
		Currency:  account.Currency,
		Balance:   account.Balance.String(),
		Version:   account.Version,
	})
}

// BalanceResponse represents the response for getting balance.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Version   int64  `json:"version"`
}

// GetBalance handles GET /v1/accounts/:id/balance.
func (h *AccountHandler) GetBalance(c *gin.Context) {
	accountID := c.Param("id")

	if _, err := uuid.Parse(accountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_ARGUMENT",
			"message": "Invalid account_id format. Must be a valid UUID.",
		})
		return
	}

	account, err := h.store.GetAccount(c.Request.Context(), accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "Account not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		AccountID: account.ID,
		Currency:  account.Currency,
		Balance:   account.Balance.String(),
		Version:   account.Version,
	})
}
