package main

import (
	"log"

	"github.com/chungtau/ledger-payments/internal/config"
	"github.com/chungtau/ledger-payments/internal/server"
	"github.com/chungtau/ledger-payments/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger("gateway", cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracer, err := telemetry.InitTracer("gateway", logger)
	if err != nil {
		log.Fatalf("Failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	srv, err := server.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
