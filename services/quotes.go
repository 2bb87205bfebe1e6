package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"prop-ledger/models"
	"prop-ledger/observability"
)

const pathQuote = "/market/quote"

// HTTPQuoteSource reads quotes from the challenge backend's market endpoint
type HTTPQuoteSource struct {
	c        *resty.Client
	breakers *CircuitBreakerRegistry
	metrics  *observability.Metrics
}

// NewHTTPQuoteSource creates a quote source against baseURL
func NewHTTPQuoteSource(baseURL string, timeout time.Duration, breakers *CircuitBreakerRegistry, metrics *observability.Metrics) *HTTPQuoteSource {
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig, metrics)
	}
	client := resty.New().
		SetLogger(observability.NewRestyLogger(BreakerQuotes)).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)

	return &HTTPQuoteSource{c: client, breakers: breakers, metrics: metrics}
}

// Quote returns the latest quote for symbol
func (s *HTTPQuoteSource) Quote(ctx context.Context, symbol string) (models.PriceQuote, error) {
	timer := s.metrics.NewTimer()
	s.metrics.RecordExternalAPIRequest(BreakerQuotes, "quote")
	defer timer.ObserveExternalAPI(BreakerQuotes, "quote")

	q, err := WithCircuitBreaker(ctx, s.breakers, BreakerQuotes, func() (models.PriceQuote, error) {
		var out QuoteDTO
		resp, err := s.c.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(&out).
			Get(pathQuote)
		if err != nil {
			return models.PriceQuote{}, classifyTransportError("quote", err)
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return models.PriceQuote{}, fmt.Errorf("quote: %w", ErrSessionExpired)
		}
		if resp.IsError() {
			return models.PriceQuote{}, &RejectionError{Op: "quote", StatusCode: resp.StatusCode(), Message: resp.Status()}
		}
		return out.ToQuote(symbol), nil
	})
	if err != nil {
		s.metrics.RecordExternalAPIError(BreakerQuotes, "quote", errorType(err))
		return models.PriceQuote{}, err
	}
	if !q.Price.IsPositive() {
		return models.PriceQuote{}, fmt.Errorf("quote for %s: non-positive price %s", symbol, q.Price)
	}
	return q, nil
}

// Close releases the underlying HTTP client
func (s *HTTPQuoteSource) Close() error {
	return s.c.Close()
}

// snapshotClient is the subset of the Alpaca market data client used here
type snapshotClient interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
}

// AlpacaQuoteSource reads quotes from Alpaca market data snapshots
type AlpacaQuoteSource struct {
	dataClient snapshotClient
	breakers   *CircuitBreakerRegistry
	metrics    *observability.Metrics
}

// NewAlpacaQuoteSource creates a new AlpacaQuoteSource instance
func NewAlpacaQuoteSource(apiKey, apiSecret, dataURL string, breakers *CircuitBreakerRegistry, metrics *observability.Metrics) *AlpacaQuoteSource {
	dataClient := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   dataURL,
	})
	return newAlpacaQuoteSource(dataClient, breakers, metrics)
}

func newAlpacaQuoteSource(dataClient snapshotClient, breakers *CircuitBreakerRegistry, metrics *observability.Metrics) *AlpacaQuoteSource {
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig, metrics)
	}
	return &AlpacaQuoteSource{dataClient: dataClient, breakers: breakers, metrics: metrics}
}

// Quote returns the latest trade price and the change against the previous
// daily close
func (s *AlpacaQuoteSource) Quote(ctx context.Context, symbol string) (models.PriceQuote, error) {
	timer := s.metrics.NewTimer()
	s.metrics.RecordExternalAPIRequest(BreakerAlpaca, "snapshot")
	defer timer.ObserveExternalAPI(BreakerAlpaca, "snapshot")

	snap, err := WithCircuitBreaker(ctx, s.breakers, BreakerAlpaca, func() (*marketdata.Snapshot, error) {
		snap, err := s.dataClient.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
		if err != nil {
			return nil, &TransientError{Op: "snapshot", Err: err}
		}
		return snap, nil
	})
	if err != nil {
		s.metrics.RecordExternalAPIError(BreakerAlpaca, "snapshot", errorType(err))
		return models.PriceQuote{}, fmt.Errorf("failed to get snapshot for %s: %w", symbol, err)
	}

	return snapshotToQuote(symbol, snap)
}

func snapshotToQuote(symbol string, snap *marketdata.Snapshot) (models.PriceQuote, error) {
	if snap == nil || snap.LatestTrade == nil || snap.LatestTrade.Price <= 0 {
		return models.PriceQuote{}, fmt.Errorf("snapshot for %s has no latest trade", symbol)
	}

	price := decimal.NewFromFloat(snap.LatestTrade.Price)
	q := models.PriceQuote{
		Symbol: symbol,
		Price:  price,
		AsOf:   snap.LatestTrade.Timestamp.UTC(),
	}
	if snap.PrevDailyBar != nil && snap.PrevDailyBar.Close > 0 {
		prev := decimal.NewFromFloat(snap.PrevDailyBar.Close)
		q.ChangePct = price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return q, nil
}
