package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/idempotency"
)

// IdempotencyKeyHeader carries the caller-supplied deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader marks responses served from the idempotency cache.
const ReplayedHeader = "Idempotency-Replayed"

// errNotCacheable makes the guard release the reservation for failed
// requests so the caller may retry under the same key.
var errNotCacheable = errors.New("response not cacheable")

// storedResponse is the serialized form kept in the idempotency store.
// Replays are byte-identical to the original response.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// bodyCapture buffers the response body so it can be stored for replay.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency deduplicates requests carrying the Idempotency-Key header.
// Requests without the header pass through untouched. Only successful (2xx)
// responses are cached; a failed attempt may be retried under the same key.
func Idempotency(guard *idempotency.Guard, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("idempotency")
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}

		response, replayed, err := guard.Execute(c.Request.Context(), key, func(context.Context) ([]byte, error) {
			c.Writer = capture
			c.Next()
			c.Writer = capture.ResponseWriter

			stored := storedResponse{
				Status:      capture.Status(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.buf.Bytes(),
			}
			if stored.Status < 200 || stored.Status > 299 {
				return nil, errNotCacheable
			}
			return json.Marshal(stored)
		})

		switch {
		case errors.Is(err, errNotCacheable):
			// The failed response was already written through the capture.
			return
		case errors.Is(err, idempotency.ErrInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"code":    "REQUEST_IN_FLIGHT",
				"message": "A request with this idempotency key is still being processed.",
			})
			return
		case errors.Is(err, idempotency.ErrStoreUnavailable):
			log.Error("idempotency store unavailable",
				zap.String("request_id", GetRequestID(c)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    "SERVICE_UNAVAILABLE",
				"message": "Unable to guarantee idempotency. Retry later.",
			})
			return
		case err != nil:
			// Handler-level errors already produced a response.
			return
		}

		if !replayed {
			return
		}

		var stored storedResponse
		if err := json.Unmarshal(response, &stored); err != nil {
			log.Error("corrupt idempotency record", zap.String("key", key), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "An unexpected error occurred",
			})
			return
		}

		c.Header(ReplayedHeader, "true")
		c.Data(stored.Status, stored.ContentType, stored.Body)
		c.Abort()
	}
}
