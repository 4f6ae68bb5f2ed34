package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/audit"
	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger("audit", cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	publisher := bus.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()
	dlq := bus.NewDLQProducer(publisher, cfg.DLQTopic)

	indexer, err := audit.NewIndexer(audit.Config{
		URL:   cfg.ElasticsearchURL,
		Index: cfg.AuditIndex,
		DLQ:   dlq,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create indexer", zap.Error(err))
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "payments-audit"
	}

	consumer := bus.NewConsumer(bus.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   contracts.TopicTransactionCompleted,
		GroupID: group,
		Workers: cfg.ConsumerWorkers,
		Retries: cfg.HandlerRetries,
		DLQ:     dlq,
		Logger:  logger,
	}, indexer.HandleCompletion)

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

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := indexer.Close(closeCtx); err != nil {
		logger.Error("failed to close indexer", zap.Error(err))
	}
	logger.Info("audit service stopped")
}
