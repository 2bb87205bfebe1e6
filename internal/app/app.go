package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"prop-ledger/cache"
	"prop-ledger/config"
	"prop-ledger/feed"
	"prop-ledger/ledger"
	"prop-ledger/models"
	"prop-ledger/observability"
	"prop-ledger/risk"
	"prop-ledger/services"
)

// PlanLister provides the plan catalog
type PlanLister interface {
	Plans(ctx context.Context) ([]models.Plan, error)
}

// BreakerReporter provides circuit breaker state for health checks
type BreakerReporter interface {
	Status() map[string]services.CircuitBreakerStatus
}

// Deps are the collaborators of an App
type Deps struct {
	Engine   *ledger.Engine
	Feed     *feed.Feed
	Plans    PlanLister
	Breakers BreakerReporter
	Backend  string
	Closers  []io.Closer
	Clock    clock.Clock
}

// App is the application shell: it owns the session, the terminal view's
// price feed and the ledger engine.
type App struct {
	cfg      *config.Config
	engine   *ledger.Engine
	feed     *feed.Feed
	plans    PlanLister
	breakers BreakerReporter
	backend  string
	closers  []io.Closer
	clock    clock.Clock

	mu   sync.Mutex
	ctx  context.Context
	task *feed.Task
}

// New creates an App from already built collaborators
func New(cfg *config.Config, deps Deps) *App {
	c := deps.Clock
	if c == nil {
		c = clock.New()
	}
	return &App{
		cfg:      cfg,
		engine:   deps.Engine,
		feed:     deps.Feed,
		plans:    deps.Plans,
		breakers: deps.Breakers,
		backend:  deps.Backend,
		closers:  deps.Closers,
		clock:    c,
		ctx:      context.Background(),
	}
}

// Build wires the full stack from configuration
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	breakers := services.NewCircuitBreakerRegistry(services.CircuitBreakerConfig{
		MaxRequests:      uint32(cfg.Breaker.MaxRequests),
		Interval:         time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
		Timeout:          time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
	}, metrics)

	retry := services.DefaultRetryConfig
	retry.MaxRetries = cfg.API.MaxRetries
	trading := services.NewTradingClient(services.TradingClientConfig{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.RequestTimeout(),
		Retry:   retry,
	}, breakers, metrics)

	store, err := cache.Open(ctx, cfg.Cache, metrics)
	if err != nil {
		trading.Close()
		return nil, err
	}

	closers := []io.Closer{trading, store}
	var source services.QuoteSource
	if cfg.Feed.Source == "alpaca" {
		source = services.NewAlpacaQuoteSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, breakers, metrics)
	} else {
		httpSource := services.NewHTTPQuoteSource(cfg.API.BaseURL, cfg.RequestTimeout(), breakers, metrics)
		closers = append(closers, httpSource)
		source = httpSource
	}

	evaluator := risk.NewEvaluator(risk.Config{
		RiskFraction:     decimal.NewFromFloat(cfg.Risk.RiskFraction),
		ExposureMultiple: decimal.NewFromFloat(cfg.Risk.ExposureMultiple),
	})
	catalog := services.NewPlanCatalog(trading, cfg.Risk.PlansFile)

	var a *App
	engine := ledger.New(trading, store,
		ledger.WithMetrics(metrics),
		ledger.WithPlans(catalog),
		ledger.WithEvaluator(evaluator),
		ledger.WithPolicy(ledger.ReconciliationPolicy{OptimisticOpen: cfg.Reconciliation.OptimisticOpen}),
		ledger.WithDefaultLimits(ledger.DefaultLimits{
			DailyLossPct:    decimal.NewFromFloat(cfg.Risk.DefaultDailyLossPct),
			MaxDrawdownPct:  decimal.NewFromFloat(cfg.Risk.DefaultMaxDrawdownPct),
			ProfitTargetPct: decimal.NewFromFloat(cfg.Risk.DefaultProfitPct),
		}),
		ledger.WithSessionExpiredHook(func() { a.handleSessionExpired() }),
	)

	a = New(cfg, Deps{
		Engine:   engine,
		Feed:     feed.New(source, feed.WithRate(cfg.Feed.RatePerSecond), feed.WithMetrics(metrics)),
		Plans:    catalog,
		Breakers: breakers,
		Backend:  store.Backend(),
		Closers:  closers,
	})
	return a, nil
}

// Startup restores a stored session and hydrates the ledger
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	ok, err := a.engine.RestoreSession(ctx)
	if err != nil {
		observability.Warn("failed to restore session", "error", err)
		return
	}
	if !ok {
		observability.Info("no stored session, waiting for login")
		return
	}
	if _, err := a.engine.Hydrate(ctx); err != nil {
		observability.Warn("initial hydrate failed", "error", err)
	}
}

// Shutdown stops the price feed and releases clients and the cache
func (a *App) Shutdown(ctx context.Context) {
	a.StopTerminal()
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		observability.Warn("shutdown finished with errors", "error", err)
	}
}

// Engine returns the ledger engine
func (a *App) Engine() *ledger.Engine {
	return a.engine
}

// Ledger returns the published snapshot
func (a *App) Ledger() models.LedgerSnapshot {
	return a.engine.Snapshot()
}

// Hydrate reloads the ledger from the trading API
func (a *App) Hydrate(ctx context.Context) (models.LedgerSnapshot, error) {
	return a.engine.Hydrate(ctx)
}

// OpenPosition opens a position; confirmed acknowledges a WARNING verdict
func (a *App) OpenPosition(ctx context.Context, intent models.TradeIntent, confirmed bool) (*ledger.OpenResult, error) {
	return a.engine.OpenPosition(ctx, intent, ledger.OpenOptions{Confirmed: confirmed})
}

// ClosePosition closes the position with the given id at exitPrice
func (a *App) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal) (models.Position, error) {
	return a.engine.ClosePosition(ctx, id, exitPrice)
}

// Validate returns the risk verdict of an intent without opening it
func (a *App) Validate(intent models.TradeIntent) models.RiskVerdict {
	return a.engine.Validate(intent)
}

// SuggestAmount returns the smart sizing for a stop-loss
func (a *App) SuggestAmount(currentPrice, stopLoss decimal.Decimal) (risk.Sizing, error) {
	return a.engine.SuggestAmount(currentPrice, stopLoss)
}

// Plans returns the plan catalog
func (a *App) Plans(ctx context.Context) ([]models.Plan, error) {
	if a.plans == nil {
		return nil, fmt.Errorf("plan catalog not configured")
	}
	return a.plans.Plans(ctx)
}

// Quotes returns the latest quote board
func (a *App) Quotes() models.Quotes {
	if a.feed == nil {
		return models.Quotes{}
	}
	return a.feed.Latest()
}

// Subscribe registers l for published snapshots
func (a *App) Subscribe(l ledger.Listener) func() {
	return a.engine.Subscribe(l)
}

// Login stores the token and hydrates the ledger
func (a *App) Login(ctx context.Context, token string) (models.LedgerSnapshot, error) {
	if err := a.engine.Login(ctx, token); err != nil {
		return models.LedgerSnapshot{}, err
	}
	return a.engine.Hydrate(ctx)
}

// Logout stops the terminal view and clears the session
func (a *App) Logout(ctx context.Context) error {
	a.StopTerminal()
	return a.engine.Logout(ctx)
}

// StartTerminal starts polling prices for the open positions and watch list
func (a *App) StartTerminal() error {
	if a.feed == nil {
		return fmt.Errorf("price feed not configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.task != nil && a.task.Running() {
		return feed.ErrTaskRunning
	}
	a.task = feed.NewTask(a.feed, a.cfg.FeedInterval(), a.symbols, a.onTick)
	if err := a.task.Start(a.ctx); err != nil {
		return err
	}
	observability.Info("terminal view started", "interval", a.cfg.FeedInterval().String())
	return nil
}

// StopTerminal cancels the price feed timer
func (a *App) StopTerminal() {
	a.mu.Lock()
	task := a.task
	a.task = nil
	a.mu.Unlock()
	if task != nil {
		task.Stop()
		observability.Info("terminal view stopped")
	}
}

// TerminalRunning reports whether the price feed is polling
func (a *App) TerminalRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.task != nil && a.task.Running()
}

func (a *App) symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(a.engine.Symbols(), a.cfg.Feed.Symbols...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (a *App) onTick(quotes models.Quotes) {
	a.engine.MarkToMarket(quotes)
	a.engine.Rollover(a.clock.Now())
}

func (a *App) handleSessionExpired() {
	a.StopTerminal()
	observability.Warn("session expired, terminal view closed")
}

// Health summarizes the state of the ledger and its dependencies
type Health struct {
	Status          string                                   `json:"status"`
	Hydrated        bool                                     `json:"hydrated"`
	Stale           bool                                     `json:"stale"`
	StaleReason     string                                   `json:"stale_reason,omitempty"`
	Cache           string                                   `json:"cache"`
	Terminal        bool                                     `json:"terminal"`
	CircuitBreakers map[string]services.CircuitBreakerStatus `json:"circuit_breakers,omitempty"`
}

// Health returns "degraded" when the ledger is stale or a breaker is open
func (a *App) Health() Health {
	snap := a.engine.Snapshot()
	h := Health{
		Status:      "ok",
		Hydrated:    snap.Initialized(),
		Stale:       snap.Stale,
		StaleReason: snap.StaleReason,
		Cache:       a.backend,
		Terminal:    a.TerminalRunning(),
	}
	if a.breakers != nil {
		h.CircuitBreakers = a.breakers.Status()
		for _, cb := range h.CircuitBreakers {
			if cb.State == "open" {
				h.Status = "degraded"
				break
			}
		}
	}
	if snap.Stale {
		h.Status = "degraded"
	}
	return h
}
