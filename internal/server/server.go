// Package server assembles the HTTP gateway: router, middleware and the
// outbound collaborators (bus publisher, redis, postgres).
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/store"
)

// Server represents the HTTP gateway with all its dependencies.
type Server struct {
	cfg         *config.Config
	httpServer  *http.Server
	publisher   bus.Publisher
	redisClient *redis.Client
	store       *store.Store
	logger      *zap.Logger
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		publisher: bus.NewKafkaPublisher(cfg.KafkaBrokers),
		logger:    logger,
	}

	logger.Info("connecting to postgres")
	st, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s.store = st

	logger.Info("connecting to redis", zap.String("addr", cfg.RedisAddr))
	s.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis connection failed, rate limiting disabled", zap.Error(err))
		s.redisClient = nil
	}

	router := SetupRouter(cfg, s.publisher, s.store, s.redisClient, logger)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.GatewayPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the server and handles graceful shutdown.
func (s *Server) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting gateway",
			zap.String("port", s.cfg.GatewayPort),
			zap.Bool("dev_mode", s.cfg.DevMode))

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown error", zap.Error(err))
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("publisher close error", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", zap.Error(err))
	}

	s.logger.Info("gateway stopped")
	return nil
}
