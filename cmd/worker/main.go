package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chungtau/ledger-payments/internal/bus"
	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/contracts"
	"github.com/chungtau/ledger-payments/internal/pipeline"
	"github.com/chungtau/ledger-payments/internal/processor"
	"github.com/chungtau/ledger-payments/internal/store"
	"github.com/chungtau/ledger-payments/internal/telemetry"
	"github.com/chungtau/ledger-payments/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger("worker", cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracer, err := telemetry.InitTracer("worker", logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	st, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	registry := pipeline.NewRegistry()
	processor.Register(registry, st, logger)
	pipe := pipeline.New(logger,
		pipeline.ValidationStage{},
		pipeline.NewProcessingStage(registry),
	)

	publisher := bus.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()
	dlq := bus.NewDLQProducer(publisher, cfg.DLQTopic)

	svc := worker.NewService(pipe, publisher, logger)

	group := cfg.ConsumerGroup
	if group == "" {
		group = "payments-worker"
	}

	topics := []string{
		contracts.TopicDebitCommands,
		contracts.TopicCreditCommands,
		contracts.TopicReverseDebitCommands,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range topics {
		consumer := bus.NewConsumer(bus.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   topic,
			GroupID: group,
			Workers: cfg.ConsumerWorkers,
			Retries: cfg.HandlerRetries,
			DLQ:     dlq,
			Logger:  logger,
		}, svc.HandleCommand)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("consumer stopped with error", zap.Error(err))
			}
		}()
	}

	go serveMetrics(":9091", logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics endpoint stopped", zap.Error(err))
	}
}
