// Command gateway serves the tokenization API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/tokenization_layer/internal/config"
	"github.com/R3E-Network/tokenization_layer/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(serviceName, cfg.Logging.Level, cfg.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	defer a.close()
	a.cron.Start()

	// Event streams stay open until the receipt and indexing waits finish, so
	// there is no write timeout.
	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Gateway listening", map[string]interface{}{"addr": cfg.Gateway.ListenAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "Shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Shutdown error", err, nil)
	}
	logger.Info(ctx, "Gateway stopped", nil)
}
