package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prop-ledger/internal/api"
	"prop-ledger/internal/app"
	"prop-ledger/observability"
)

var serveTerminal bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger API to the local UI",
	Long: `Restore the stored session, hydrate the ledger and serve it over HTTP.

Examples:
  ledgerd serve
  ledgerd serve --terminal`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveTerminal, "terminal", false, "start the price feed immediately")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	application.Startup(ctx)

	if serveTerminal {
		if err := application.StartTerminal(); err != nil {
			observability.Warn("failed to start terminal view", "error", err)
		}
	}

	handler := api.NewHandler(application, cfg)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(handler, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.Info("starting ledger server", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			application.Shutdown(context.Background())
			return err
		}
	}

	observability.Info("shutting down ledger server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	application.Shutdown(shutdownCtx)
	return err
}
