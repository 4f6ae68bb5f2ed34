package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/idempotency"
)

func newIdempotentRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.Options{}, zap.NewNop())
	r := gin.New()
	r.POST("/v1/debits", Idempotency(guard, zap.NewNop()), handler)
	return r
}

func postWithKey(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/debits", nil)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	var calls int
	r := newIdempotentRouter(func(c *gin.Context) {
		calls++
		c.JSON(http.StatusAccepted, gin.H{"transaction_id": "txn-1", "call": calls})
	})

	first := postWithKey(r, "key-1")
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	second := postWithKey(r, "key-1")
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyDistinctKeysExecuteSeparately(t *testing.T) {
	var calls int
	r := newIdempotentRouter(func(c *gin.Context) {
		calls++
		c.JSON(http.StatusAccepted, gin.H{"call": calls})
	})

	postWithKey(r, "key-1")
	postWithKey(r, "key-2")
	assert.Equal(t, 2, calls)
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	var calls int
	r := newIdempotentRouter(func(c *gin.Context) {
		calls++
		c.JSON(http.StatusAccepted, gin.H{})
	})

	postWithKey(r, "")
	postWithKey(r, "")
	assert.Equal(t, 2, calls)
}

func TestIdempotencyFailedResponseNotCached(t *testing.T) {
	var calls int
	r := newIdempotentRouter(func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusBadGateway, gin.H{"code": "UPSTREAM_ERROR"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"transaction_id": "txn-1"})
	})

	first := postWithKey(r, "key-1")
	assert.Equal(t, http.StatusBadGateway, first.Code)

	// The key was released, so the retry executes and succeeds.
	second := postWithKey(r, "key-1")
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Empty(t, second.Header().Get(ReplayedHeader))
	assert.Equal(t, 2, calls)
}
