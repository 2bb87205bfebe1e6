package services

import (
	"context"

	"github.com/shopspring/decimal"

	"prop-ledger/models"
)

// LedgerClient defines the trading API operations the ledger engine depends on
type LedgerClient interface {
	Open(ctx context.Context, intent models.TradeIntent, opts OpenOptions) (*OpenResult, error)
	ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal) (*CloseResult, error)
	FetchAccount(ctx context.Context) (*models.ChallengeAccount, error)
	FetchOpenPositions(ctx context.Context) ([]models.Position, error)
	FetchClosedPositions(ctx context.Context) ([]models.Position, error)
}

// QuoteSource returns the latest quote for a single symbol
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (models.PriceQuote, error)
}

// PlanFetcher returns the plan catalog from the backend
type PlanFetcher interface {
	FetchPlans(ctx context.Context) ([]models.Plan, error)
}

// Compile-time interface verification
var _ LedgerClient = (*TradingClient)(nil)
var _ PlanFetcher = (*TradingClient)(nil)
var _ QuoteSource = (*HTTPQuoteSource)(nil)
var _ QuoteSource = (*AlpacaQuoteSource)(nil)
