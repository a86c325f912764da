package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/polyglot-keyconf/internal/telemetry"
	"github.com/tjfontaine/polyglot-keyconf/pkg/keyconf"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("KEYCONF_CONFIG", "config.yaml"), "path to the YAML config file")
	traces := flag.Bool("trace", os.Getenv("KEYCONF_TRACE") == "true", "export spans to stderr")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	var traceOut io.Writer
	if *traces {
		traceOut = os.Stderr
	}
	shutdown, err := telemetry.InitTracer("polyglot-keyconf", traceOut, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	svc, err := keyconf.New(
		keyconf.WithLogger(logger),
		keyconf.WithFileConfig(*configPath),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	logger.Info("keyconf started successfully", slog.String("config", *configPath))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping keyconf...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
