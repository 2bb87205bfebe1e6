package cmd

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"prop-ledger/config"
	"prop-ledger/observability"
)

var (
	envFile string
	cfg     *config.Config
	metrics *observability.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Client-side ledger for prop-trading challenge accounts",
	Long: `ledgerd keeps a challenge account, its open and closed positions and its
live equity in sync with the challenge trading API.

It serves the ledger to a local UI over HTTP, marks positions to market from
a price feed, gates new trades with the challenge risk rules and falls back
to a persisted snapshot when the trading API is unreachable.

Configuration is read from the environment, optionally seeded from a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
			return err
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		observability.InitLoggerWithLevel(cfg.Log.Production, observability.ParseLevel(cfg.Log.Level))
		metrics = observability.GetMetrics()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
}
