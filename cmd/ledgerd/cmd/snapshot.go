package cmd

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prop-ledger/internal/app"
)

var snapshotToken string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Hydrate the ledger once and print it as JSON",
	Long: `Hydrate the ledger from the trading API and print the snapshot. When the
API is unreachable the cached snapshot is printed with "stale": true.

Examples:
  ledgerd snapshot
  ledgerd snapshot --token <session-token>`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapshotToken, "token", "", "session token to log in with")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	if snapshotToken != "" {
		if _, err := application.Login(ctx, snapshotToken); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	} else {
		application.Startup(ctx)
	}

	snap := application.Ledger()
	if !snap.Initialized() && !snap.Stale {
		return fmt.Errorf("no session: pass --token or log in through the API first")
	}

	out, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
