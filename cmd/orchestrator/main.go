package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/saga"
	"github.com/chungtau/ledger-payments/internal/store"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger("orchestrator", cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracer, err := telemetry.InitTracer("orchestrator", logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	st, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	publisher := bus.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()
	dlq := bus.NewDLQProducer(publisher, cfg.DLQTopic)

	orchestrator := saga.NewOrchestrator(st.Sagas(), publisher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Republish pending commands for sagas left in-doubt by a crash, then
	// keep sweeping so a failed publish never wedges a saga until restart.
	if err := orchestrator.Recover(ctx, cfg.SagaRecoveryAge); err != nil {
		logger.Fatal("saga recovery failed", zap.Error(err))
	}
	go orchestrator.RunRecovery(ctx, cfg.SagaRecoveryAge, cfg.SagaRecoveryInterval)

	group := cfg.ConsumerGroup
	if group == "" {
		group = "payments-orchestrator"
	}

	consumers := []*bus.Consumer{
		bus.NewConsumer(bus.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   contracts.TopicTransferRequested,
			GroupID: group,
			Workers: cfg.ConsumerWorkers,
			Retries: cfg.HandlerRetries,
			DLQ:     dlq,
			Logger:  logger,
		}, orchestrator.HandleRequestedMessage),
		bus.NewConsumer(bus.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   contracts.TopicTransferEvents,
			GroupID: group,
			Workers: cfg.ConsumerWorkers,
			Retries: cfg.HandlerRetries,
			DLQ:     dlq,
			Logger:  logger,
		}, orchestrator.HandleEventMessage),
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *bus.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				logger.Error("consumer stopped with error", zap.Error(err))
			}
		}(c)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	wg.Wait()
	logger.Info("orchestrator stopped")
}
