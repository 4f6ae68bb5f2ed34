package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/telemetry"
	"github.com/chungtau/ledger-payments/internal/webhook"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger("webhooks", cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	notifier := webhook.NewNotifier(webhook.Options{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Backoff:     cfg.WebhookBackoff,
	}, logger)

	group := cfg.ConsumerGroup
	if group == "" {
		group = "payments-webhooks"
	}

	consumer := bus.NewConsumer(bus.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   contracts.TopicTransactionCompleted,
		GroupID: group,
		Workers: cfg.ConsumerWorkers,
		Retries: cfg.HandlerRetries,
		Logger:  logger,
	}, notifier.HandleCompletion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil {
		logger.Error("consumer stopped with error", zap.Error(err))
	}
	logger.Info("webhook notifier stopped")
}
