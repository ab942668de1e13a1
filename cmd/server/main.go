// Package main runs the risk manager service: the HTTP API, the risk cycle
// scheduler and, when enabled, investable pool discovery.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dlmm-risk-manager/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "TOML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage even if DSNs are configured")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *useMemory {
		cfg.Storage.PostgresDSN = ""
		cfg.Storage.ClickHouseDSN = ""
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}
	logger.Printf("Config: %+v", cfg.Redacted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, cfg)
	if err != nil {
		logger.Fatalf("Startup failed: %v", err)
	}
	defer a.close()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(shutdownTimeout + 5*time.Second):
			logger.Println("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go a.scheduler.Run(ctx)
	if a.discovery != nil {
		go a.discovery.Run(ctx)
	}

	httpErr := make(chan error, 1)
	go func() { httpErr <- a.server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			logger.Printf("HTTP server error: %v", err)
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("HTTP shutdown: %v", err)
	}

	// An in-flight risk cycle finishes before stores are closed.
	select {
	case <-a.scheduler.Done():
	case <-shutdownCtx.Done():
		logger.Println("Risk cycle still running at shutdown deadline")
	}

	close(done)
	logger.Println("Shutdown complete")
}
