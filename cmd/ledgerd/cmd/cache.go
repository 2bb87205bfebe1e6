package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"prop-ledger/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persisted ledger cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached snapshot and session token",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := cache.Open(ctx, cfg.Cache, metrics)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cache\n", c.Backend())
	return nil
}
