// Package main provides a standalone HTTP server for E2E testing.
// It runs the ledger API against an in-process mock of the challenge trading
// API, seeded with an account and quotes, so UI tests need no backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prop-ledger/config"
	"prop-ledger/e2e/mocks"
	"prop-ledger/internal/api"
	"prop-ledger/internal/app"
	"prop-ledger/observability"
)

func main() {
	// Initialize logger in development mode for tests
	observability.InitLogger(false)
	metrics := observability.InitMetrics()

	port := os.Getenv("E2E_SERVER_PORT")
	if port == "" {
		port = "9090"
	}

	mock := mocks.NewMockServer()
	defer mock.Close()
	mock.SetActiveTrades([]mocks.Trade{{
		ID:         1,
		Symbol:     "EURUSD",
		Type:       "BUY",
		Amount:     1000,
		EntryPrice: 1.08,
		SL:         mocks.Float(1.07),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}})
	mock.SetQuote("EURUSD", 1.085, 0.2)
	mock.SetQuote("BTCUSD", 64000, -1.1)
	observability.Info("mock trading API started", "url", mock.URL())

	cfg := config.NewTestConfig()
	cfg.API.BaseURL = mock.URL()
	cfg.HTTP.Addr = ":" + port
	cfg.Feed.Symbols = []string{"BTCUSD"}

	ctx := context.Background()
	application, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		observability.Fatal("failed to build application", "error", err)
	}
	if _, err := application.Login(ctx, "e2e-token"); err != nil {
		observability.Fatal("failed to log in to mock trading API", "error", err)
	}

	handler := api.NewHandler(application, cfg)
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		observability.Info("starting E2E test server", "port", port, "url", fmt.Sprintf("http://localhost:%s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down E2E test server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}

	application.Shutdown(shutdownCtx)
	observability.Info("E2E test server stopped")
}
