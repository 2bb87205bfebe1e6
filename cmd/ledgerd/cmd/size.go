package cmd

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"prop-ledger/risk"
)

var (
	sizeEquity   string
	sizePrice    string
	sizeStop     string
	sizeFraction string
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Suggest a position amount for a stop-loss",
	Long: `Size a position so that hitting the stop-loss loses the configured share
of equity (RISK_FRACTION, 1% by default).

Examples:
  ledgerd size --equity 10000 --price 100 --stop 98
  ledgerd size --equity 25000 --price 1.0850 --stop 1.0820 --fraction 0.005`,
	Args: cobra.NoArgs,
	RunE: runSize,
}

func init() {
	rootCmd.AddCommand(sizeCmd)
	sizeCmd.Flags().StringVar(&sizeEquity, "equity", "", "account equity")
	sizeCmd.Flags().StringVar(&sizePrice, "price", "", "current price")
	sizeCmd.Flags().StringVar(&sizeStop, "stop", "", "stop-loss price")
	sizeCmd.Flags().StringVar(&sizeFraction, "fraction", "", "share of equity to risk (default RISK_FRACTION)")
	sizeCmd.MarkFlagRequired("equity")
	sizeCmd.MarkFlagRequired("price")
	sizeCmd.MarkFlagRequired("stop")
}

func runSize(cmd *cobra.Command, args []string) error {
	equity, err := decimal.NewFromString(sizeEquity)
	if err != nil {
		return fmt.Errorf("equity: %w", err)
	}
	price, err := decimal.NewFromString(sizePrice)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	stop, err := decimal.NewFromString(sizeStop)
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	fraction := decimal.NewFromFloat(cfg.Risk.RiskFraction)
	if sizeFraction != "" {
		if fraction, err = decimal.NewFromString(sizeFraction); err != nil {
			return fmt.Errorf("fraction: %w", err)
		}
	}

	s, err := risk.SuggestAmount(equity, fraction, price, stop)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "risk amount:      %s\n", s.RiskAmount.StringFixed(2))
	fmt.Fprintf(w, "stop distance:    %s\n", s.Distance.String())
	fmt.Fprintf(w, "suggested amount: %s\n", s.SuggestedAmount.StringFixed(2))
	return nil
}
