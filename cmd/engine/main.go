package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forex-trade-engine-go/internal/backend"
	"forex-trade-engine-go/internal/config"
	"forex-trade-engine-go/internal/database"
	"forex-trade-engine-go/internal/engine"
	"forex-trade-engine-go/internal/feed"
	"forex-trade-engine-go/internal/instrument"
	"forex-trade-engine-go/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize local position cache
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Instrument specs are loaded once; unknown symbols fall back to the
	// logged default economics.
	table := instrument.NewTable(cfg.Engine, log)

	// Trade-store REST client
	client := backend.NewRestClient(&cfg.Backend, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Price feed subscriber with explicit lifecycle: started here, torn
	// down with the same context as the engine.
	subscriber := feed.NewSubscriber(cfg.Feed, log)
	go subscriber.Run(ctx)

	// Initialize and run the risk-trigger engine
	riskEngine := engine.NewEngine(log, &cfg, subscriber, client, db, table)

	apiServer := engine.NewAPIServer(riskEngine, log)
	apiServer.Start()

	riskEngine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Engine has been shut down.")
}
