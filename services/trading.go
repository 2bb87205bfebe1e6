package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"prop-ledger/models"
	"prop-ledger/observability"
)

const serviceTrading = "trading"

const (
	pathOpen    = "/trading/open"
	pathClose   = "/trading/close"
	pathAccount = "/trading/account"
	pathActive  = "/trading/active"
	pathHistory = "/trading/history"
	pathPlans   = "/plans"
)

// OpenOptions carries the per-request identifiers of an open call
type OpenOptions struct {
	IdempotencyKey string
	ClientID       string
}

// OpenResult is the server's answer to an open call
type OpenResult struct {
	Position models.Position
	Account  *models.AccountUpdate
}

// CloseResult is the server's answer to a close call. RealizedPnl is nil when
// the backend only returned the updated balance.
type CloseResult struct {
	RealizedPnl *decimal.Decimal
	ExitPrice   *decimal.Decimal
	ClosedAt    *time.Time
	Account     *models.AccountUpdate
}

// TradingClientConfig configures the trading API gateway
type TradingClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryConfig
}

// TradingClient is the HTTP gateway to the challenge backend's trading,
// account and history endpoints.
type TradingClient struct {
	c        *resty.Client
	timeout  time.Duration
	retry    RetryConfig
	breakers *CircuitBreakerRegistry
	metrics  *observability.Metrics

	mu    sync.RWMutex
	token string
}

// NewTradingClient creates a new TradingClient instance
func NewTradingClient(cfg TradingClientConfig, breakers *CircuitBreakerRegistry, metrics *observability.Metrics) *TradingClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig, metrics)
	}

	client := resty.New().
		SetLogger(observability.NewRestyLogger(serviceTrading)).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &TradingClient{
		c:        client,
		timeout:  cfg.Timeout,
		retry:    cfg.Retry,
		breakers: breakers,
		metrics:  metrics,
	}
}

// SetToken sets the bearer session token attached to every call
func (t *TradingClient) SetToken(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// Token returns the current session token
func (t *TradingClient) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Close releases the underlying HTTP client
func (t *TradingClient) Close() error {
	return t.c.Close()
}

// Open submits a new trade. It is never retried: a timeout leaves the
// outcome unknown and the next hydrate settles it.
func (t *TradingClient) Open(ctx context.Context, intent models.TradeIntent, opts OpenOptions) (*OpenResult, error) {
	var out OpenResponse
	headers := map[string]string{}
	if opts.IdempotencyKey != "" {
		headers["Idempotency-Key"] = opts.IdempotencyKey
	}

	err := t.do(ctx, "open", http.MethodPost, pathOpen, NewOpenRequest(intent, opts.ClientID), &out, headers)
	if err != nil {
		return nil, err
	}
	if out.Trade.ID == "" {
		return nil, &RejectionError{Op: "open", StatusCode: http.StatusBadGateway, Message: "response carried no trade id"}
	}

	if !SideFromWire(out.Trade.Type).Valid() {
		observability.Warn("open response carried an unknown trade type, keeping the requested side",
			"trade_id", string(out.Trade.ID), "type", out.Trade.Type, "side", intent.Side)
		out.Trade.Type = SideToWire(intent.Side)
	}
	pos, err := out.Trade.ToPosition()
	if err != nil {
		return nil, &RejectionError{Op: "open", StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	return &OpenResult{
		Position: pos,
		Account:  out.Account.ToUpdate(),
	}, nil
}

// ClosePosition closes the trade with the given id at exitPrice
func (t *TradingClient) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal) (*CloseResult, error) {
	var out CloseResponse
	err := t.do(ctx, "close", http.MethodPost, pathClose, CloseRequest{TradeID: id, ExitPrice: exitPrice}, &out, nil)
	if err != nil {
		return nil, err
	}

	res := &CloseResult{Account: out.Account.ToUpdate()}
	if out.Trade != nil {
		res.RealizedPnl = out.Trade.PnL
		res.ExitPrice = out.Trade.ExitPrice
		if out.Trade.ClosedAt != nil && !out.Trade.ClosedAt.IsZero() {
			at := out.Trade.ClosedAt.Time
			res.ClosedAt = &at
		}
	}
	if res.RealizedPnl == nil && (res.Account == nil || res.Account.CurrentBalance == nil) {
		return nil, &RejectionError{Op: "close", StatusCode: http.StatusBadGateway, Message: "response carried neither pnl nor balance"}
	}
	return res, nil
}

// FetchAccount returns the current challenge account
func (t *TradingClient) FetchAccount(ctx context.Context) (*models.ChallengeAccount, error) {
	var out AccountDTO
	if err := t.get(ctx, "fetch_account", pathAccount, &out); err != nil {
		return nil, err
	}
	return out.ToAccount(), nil
}

// FetchOpenPositions returns the account's open trades
func (t *TradingClient) FetchOpenPositions(ctx context.Context) ([]models.Position, error) {
	var out []TradeDTO
	if err := t.get(ctx, "fetch_active", pathActive, &out); err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(out))
	for _, tr := range out {
		p, err := tr.ToPosition()
		if err != nil {
			return nil, &RejectionError{Op: "fetch_active", StatusCode: http.StatusBadGateway, Message: err.Error()}
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// FetchClosedPositions returns the account's recent trade history
func (t *TradingClient) FetchClosedPositions(ctx context.Context) ([]models.Position, error) {
	var out []TradeDTO
	if err := t.get(ctx, "fetch_history", pathHistory, &out); err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(out))
	for _, tr := range out {
		p, err := tr.ToClosedPosition()
		if err != nil {
			return nil, &RejectionError{Op: "fetch_history", StatusCode: http.StatusBadGateway, Message: err.Error()}
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// BreakerStatus exposes the state of the trading circuit breakers
func (t *TradingClient) BreakerStatus() map[string]CircuitBreakerStatus {
	return t.breakers.Status()
}

// get performs an idempotent read with retry on transient failures
func (t *TradingClient) get(ctx context.Context, op, path string, result any) error {
	return WithRetry(ctx, t.retry, func() error {
		return t.do(ctx, op, http.MethodGet, path, nil, result, nil)
	})
}

func (t *TradingClient) do(ctx context.Context, op, method, path string, body, result any, headers map[string]string) error {
	timer := t.metrics.NewTimer()
	t.metrics.RecordExternalAPIRequest(serviceTrading, op)

	_, err := WithCircuitBreaker(ctx, t.breakers, BreakerTrading, func() (struct{}, error) {
		return struct{}{}, t.send(ctx, op, method, path, body, result, headers)
	})

	timer.ObserveExternalAPI(serviceTrading, op)
	if err != nil {
		t.metrics.RecordExternalAPIError(serviceTrading, op, errorType(err))
	}
	return err
}

func (t *TradingClient) send(ctx context.Context, op, method, path string, body, result any, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := t.c.R().
		SetContext(ctx).
		SetError(&apiError{})
	if token := t.Token(); token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return classifyTransportError(op, err)
	}

	observability.Debug("trading api response",
		"op", op,
		"status", resp.StatusCode(),
		"duration", resp.Duration())

	if resp.StatusCode() == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrSessionExpired)
	}
	if resp.IsError() {
		var msg []string
		if e, ok := resp.Error().(*apiError); ok && e != nil {
			msg = []string{e.Message, e.Error, e.Detail}
		}
		return &RejectionError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Message:    rejectionMessage(resp.Status(), resp.String(), msg...),
		}
	}
	return nil
}

// FetchPlans returns the funding plan catalog
func (t *TradingClient) FetchPlans(ctx context.Context) ([]models.Plan, error) {
	var out []PlanDTO
	if err := t.get(ctx, "fetch_plans", pathPlans, &out); err != nil {
		return nil, err
	}
	plans := make([]models.Plan, 0, len(out))
	for _, p := range out {
		plans = append(plans, p.ToPlan())
	}
	return plans, nil
}
