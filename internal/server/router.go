package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/handler"
	"github.com/chungtau/ledger-payments/internal/idempotency"
	"github.com/chungtau/ledger-payments/internal/middleware"
	"github.com/chungtau/ledger-payments/internal/store"
)

// SetupRouter creates and configures the Gin router.
func SetupRouter(cfg *config.Config, publisher bus.Publisher, st *store.Store, redisClient *redis.Client, logger *zap.Logger) *gin.Engine {
	if cfg.DevMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	// Create handlers
	healthHandler := handler.NewHealthHandler(st, redisClient)
	transactionHandler := handler.NewTransactionHandler(publisher)
	transferHandler := handler.NewTransferHandler(publisher)
	accountHandler := handler.NewAccountHandler(st)
	authHandler := handler.NewAuthHandler(cfg.JWTSecret, cfg.DevMode)

	// Health and metrics endpoints (no auth required)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Dev-only auth endpoint (only available in DEV_MODE)
	if cfg.DevMode {
		router.POST("/auth/dev/token", authHandler.GenerateDevToken)
	}

	// API v1 routes (auth required)
	v1 := router.Group("/v1")
	{
		v1.Use(middleware.Auth(cfg.JWTSecret))

		// Rate limiting requires Redis
		if redisClient != nil {
			rateLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
			v1.Use(rateLimiter.Middleware())
		}

		// Idempotency guard for mutating endpoints; falls back to an
		// in-process store when Redis is unavailable.
		var idemStore idempotency.Store
		if redisClient != nil {
			idemStore = idempotency.NewRedisStore(redisClient)
		} else {
			idemStore = idempotency.NewMemoryStore()
		}
		guard := idempotency.NewGuard(idemStore, idempotency.Options{
			TTL:      cfg.IdempotencyTTL,
			Conflict: conflictPolicy(cfg.IdempotencyConflict),
			Failure:  failurePolicy(cfg.IdempotencyFailureMod),
		}, logger)
		v1.Use(middleware.Idempotency(guard, logger))

		// Transaction endpoints
		v1.POST("/debits", transactionHandler.CreateDebit)
		v1.POST("/credits", transactionHandler.CreateCredit)
		v1.POST("/transfers", transferHandler.Create)

		// Account endpoints
		accounts := v1.Group("/accounts")
		{
			accounts.POST("", accountHandler.Create)
			accounts.GET("/:id/balance", accountHandler.GetBalance)
		}
	}

	return router
}

func conflictPolicy(s string) idempotency.ConflictPolicy {
	if s == "wait" {
		return idempotency.ConflictWait
	}
	return idempotency.ConflictReject
}

func failurePolicy(s string) idempotency.FailurePolicy {
	if s == "open" {
		return idempotency.FailOpen
	}
	return idempotency.FailClosed
}
