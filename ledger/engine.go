package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"prop-ledger/models"
	"prop-ledger/observability"
	"prop-ledger/risk"
	"prop-ledger/services"
)

// SnapshotStore persists the last hydrated snapshot and the session token
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (*models.LedgerSnapshot, error)
	SaveSnapshot(ctx context.Context, snap models.LedgerSnapshot) error
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// PlanSource resolves the funding plan of an account
type PlanSource interface {
	Find(ctx context.Context, account *models.ChallengeAccount) (*models.Plan, error)
}

// TokenHolder is implemented by clients that attach a bearer token
type TokenHolder interface {
	SetToken(token string)
}

// DefaultLimits are percentages of the initial balance used when no plan matches
type DefaultLimits struct {
	DailyLossPct    decimal.Decimal
	MaxDrawdownPct  decimal.Decimal
	ProfitTargetPct decimal.Decimal
}

// OpenOptions controls an open request
type OpenOptions struct {
	// Confirmed is set once the user accepted a WARNING verdict
	Confirmed bool
}

// OpenResult is the outcome of a successful open
type OpenResult struct {
	Position models.Position    `json:"position"`
	Verdict  models.RiskVerdict `json:"verdict"`
	// Provisional is true when the position was appended locally after a
	// network failure and awaits reconciliation
	Provisional bool `json:"provisional"`
}

// Option configures an Engine
type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithPlans(p PlanSource) Option {
	return func(e *Engine) { e.plans = p }
}

func WithPolicy(p ReconciliationPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithEvaluator(ev *risk.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

func WithDefaultLimits(d DefaultLimits) Option {
	return func(e *Engine) { e.defaults = d }
}

// WithSessionExpiredHook registers fn to run after a 401 logged the session out
func WithSessionExpiredHook(fn func()) Option {
	return func(e *Engine) { e.onExpired = fn }
}

// Engine owns the challenge account and its positions. All mutations are
// computed on a copy of the published snapshot and swapped in under mu, so
// readers always see either the old or the new state.
type Engine struct {
	client    services.LedgerClient
	store     SnapshotStore
	plans     PlanSource
	evaluator *risk.Evaluator
	policy    ReconciliationPolicy
	defaults  DefaultLimits
	clock     clock.Clock
	metrics   *observability.Metrics
	onExpired func()

	mu     sync.RWMutex
	state  models.LedgerSnapshot
	quotes models.Quotes

	locks  *keyedMutex
	subs   *subscribers
	closes closeTracker
}

// closeTracker counts server closes in flight. Guarded by Engine.mu.
type closeTracker struct {
	inflight int
	gen      uint64
	// resync is set when an overlapping close could not reconcile the
	// server balance with the local book
	resync bool
}

// closeTicket identifies one server close
type closeTicket struct {
	gen        uint64
	overlapped bool
}

// New creates an Engine over client and store
func New(client services.LedgerClient, store SnapshotStore, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		store:     store,
		evaluator: risk.NewEvaluator(risk.DefaultConfig()),
		policy:    DefaultPolicy(),
		defaults: DefaultLimits{
			DailyLossPct:    decimal.NewFromInt(5),
			MaxDrawdownPct:  decimal.NewFromInt(10),
			ProfitTargetPct: decimal.NewFromInt(10),
		},
		clock:  clock.New(),
		quotes: make(models.Quotes),
		locks:  newKeyedMutex(),
		subs:   newSubscribers(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.GetMetrics()
	}
	return e
}

// Snapshot returns a copy of the published state
func (e *Engine) Snapshot() models.LedgerSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Subscribe registers l for every published snapshot and returns the unsubscribe func
func (e *Engine) Subscribe(l Listener) func() {
	return e.subs.add(l)
}

// Symbols returns the symbols of all open positions
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]bool, len(e.state.OpenPositions))
	out := make([]string, 0, len(e.state.OpenPositions))
	for _, p := range e.state.OpenPositions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

// Hydrate replaces the ledger with the server view. On failure it serves the
// cached snapshot flagged stale, or an empty stale snapshot when nothing is
// cached; neither case returns an error. An expired session logs out and
// returns services.ErrSessionExpired.
func (e *Engine) Hydrate(ctx context.Context) (models.LedgerSnapshot, error) {
	acct, open, closed, err := e.fetch(ctx)
	switch e.policy.OnHydrate(err) {
	case Expire:
		e.metrics.RecordHydration("expired")
		e.expire(ctx)
		return models.LedgerSnapshot{}, err
	case Fallback:
		return e.fallback(ctx, err), nil
	}

	now := e.clock.Now()
	acct.TradingDay = tradingDay(now)
	limits := e.limitsFor(ctx, acct)

	e.mu.Lock()
	positions, report := e.policy.Supersede(e.state.OpenPositions, open)
	next := models.LedgerSnapshot{
		Account:         acct,
		Limits:          limits,
		OpenPositions:   positions,
		ClosedPositions: closed,
		HydratedAt:      now,
	}
	e.refresh(&next)
	e.state = next
	out := next.Clone()
	e.mu.Unlock()

	log := observability.WithAccount(acct.ID)
	for local, server := range report.Confirmed {
		log.Info("unconfirmed position acknowledged by server", "local_id", local, "position_id", server)
	}
	for _, p := range report.Discarded {
		log.Warn("discarding unconfirmed position unknown to server", "position_id", p.ID, "symbol", p.Symbol)
	}
	e.metrics.RecordDiscardedPositions(len(report.Discarded))

	if err := e.store.SaveSnapshot(ctx, out); err != nil {
		log.Warn("failed to cache ledger snapshot", "error", err)
	}

	e.metrics.RecordHydration("fresh")
	log.Info("ledger hydrated",
		"open_positions", len(out.OpenPositions),
		"equity", out.Account.Equity.String(),
		"status", out.Account.Status)
	e.published(out)
	return out, nil
}

func (e *Engine) fetch(ctx context.Context) (*models.ChallengeAccount, []models.Position, []models.Position, error) {
	var (
		wg                         sync.WaitGroup
		acct                       *models.ChallengeAccount
		open, closed               []models.Position
		accErr, openErr, closedErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		acct, accErr = e.client.FetchAccount(ctx)
	}()
	go func() {
		defer wg.Done()
		open, openErr = e.client.FetchOpenPositions(ctx)
	}()
	go func() {
		defer wg.Done()
		closed, closedErr = e.client.FetchClosedPositions(ctx)
	}()
	wg.Wait()

	if err := errors.Join(accErr, openErr, closedErr); err != nil {
		return nil, nil, nil, err
	}
	if acct == nil {
		return nil, nil, nil, errors.New("trading API returned no account")
	}
	return acct, open, closed, nil
}

// fallback keeps an already hydrated ledger, otherwise serves the cache
func (e *Engine) fallback(ctx context.Context, cause error) models.LedgerSnapshot {
	reason := cause.Error()
	cached, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		observability.Warn("failed to load cached snapshot", "error", err)
	}

	e.mu.Lock()
	result := "stale"
	switch {
	case e.state.Initialized():
	case cached.Initialized():
		e.state = cached.Clone()
		e.refresh(&e.state)
	default:
		e.state = models.LedgerSnapshot{}
		result = "empty"
	}
	e.state.Stale = true
	e.state.StaleReason = reason
	out := e.state.Clone()
	e.mu.Unlock()

	e.metrics.RecordHydration(result)
	observability.Warn("hydrate failed, serving degraded ledger", "result", result, "error", cause)
	e.published(out)
	return out
}

// MarkToMarket applies quotes to every open position and republishes
func (e *Engine) MarkToMarket(quotes models.Quotes) models.LedgerSnapshot {
	e.mu.Lock()
	for sym, q := range quotes {
		e.quotes[sym] = q
	}
	if !e.state.Initialized() {
		out := e.state.Clone()
		e.mu.Unlock()
		return out
	}
	next := e.state.Clone()
	acct, open := MarkToMarket(*next.Account, next.OpenPositions, e.quotes)
	next.Account = &acct
	next.OpenPositions = open
	e.annotate(&next)
	e.state = next
	out := next.Clone()
	e.mu.Unlock()

	if out.RiskAlert != nil {
		observability.WithAccount(acct.ID).Warn("risk floor breached", "message", out.RiskAlert.Message)
	}
	e.published(out)
	return out
}

// Validate runs the risk rules against the current account
func (e *Engine) Validate(intent models.TradeIntent) models.RiskVerdict {
	snap := e.Snapshot()
	return e.evaluator.Validate(intent, snap.Account, snap.Limits)
}

// SuggestAmount sizes a position so that hitting stopLoss loses the configured
// fraction of current equity
func (e *Engine) SuggestAmount(currentPrice, stopLoss decimal.Decimal) (risk.Sizing, error) {
	snap := e.Snapshot()
	if !snap.Initialized() {
		return risk.Sizing{}, ErrNotHydrated
	}
	return e.evaluator.SuggestAmount(snap.Account.Equity, currentPrice, stopLoss)
}

// OpenPosition validates intent and sends it to the trading API. A BLOCKED
// verdict, or a WARNING without opts.Confirmed, returns a *RiskError without
// any server call.
func (e *Engine) OpenPosition(ctx context.Context, intent models.TradeIntent, opts OpenOptions) (*OpenResult, error) {
	snap := e.Snapshot()
	if !snap.Initialized() {
		return nil, ErrNotHydrated
	}

	verdict := e.evaluator.Validate(intent, snap.Account, snap.Limits)
	switch {
	case verdict.Status == models.VerdictBlocked:
		e.metrics.RecordTradeOperation("open", "blocked")
		return nil, &RiskError{Verdict: verdict}
	case verdict.Status == models.VerdictWarning && !opts.Confirmed:
		e.metrics.RecordTradeOperation("open", "unconfirmed")
		return nil, &RiskError{Verdict: verdict}
	}

	accountID := snap.Account.ID
	now := e.clock.Now()
	clientID := newClientID(now)
	localID := localPrefix + clientID

	unlock := e.locks.Lock(localID)
	defer unlock()

	log := observability.WithAccount(accountID).With("symbol", intent.Symbol, "client_id", clientID)
	res, err := e.client.Open(ctx, intent, services.OpenOptions{
		IdempotencyKey: uuid.NewString(),
		ClientID:       clientID,
	})

	switch e.policy.OnOpen(err) {
	case Expire:
		e.metrics.RecordTradeOperation("open", "expired")
		e.expire(ctx)
		return nil, err
	case Abandon:
		e.metrics.RecordTradeOperation("open", failureResult(err))
		log.Warn("open rejected", "error", err)
		return nil, err
	case Fallback:
		pos := intent.Position()
		pos.ID = localID
		pos.OpenedAt = now
		pos.Unconfirmed = true
		if _, cerr := e.commit(accountID, func(s *models.LedgerSnapshot) error {
			s.OpenPositions = append(s.OpenPositions, pos)
			return nil
		}); cerr != nil {
			return nil, cerr
		}
		e.metrics.RecordTradeOperation("open", "provisional")
		log.Warn("trading API unreachable, position kept unconfirmed", "position_id", localID, "error", err)
		return &OpenResult{Position: pos, Verdict: verdict, Provisional: true}, nil
	}

	pos := res.Position
	pos.Unconfirmed = false
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = now
	}
	if _, err := e.commit(accountID, func(s *models.LedgerSnapshot) error {
		// a hydrate that finished during the call may already carry the trade
		if indexOf(s.OpenPositions, pos.ID) >= 0 {
			return nil
		}
		acct := res.Account.Apply(*s.Account)
		s.Account = &acct
		s.OpenPositions = append(s.OpenPositions, pos)
		return nil
	}); err != nil {
		log.Warn("discarding open result", "position_id", pos.ID, "error", err)
		return nil, err
	}

	e.metrics.RecordTradeOperation("open", "ok")
	log.Info("position opened", "position_id", pos.ID, "side", pos.Side, "amount", pos.Amount.String())
	return &OpenResult{Position: pos, Verdict: verdict}, nil
}

// ClosePosition closes an open position. The realized PnL comes from the
// server; an unconfirmed position is closed locally with the mark-to-market
// formula. A failed call leaves the ledger unchanged.
func (e *Engine) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal) (models.Position, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	snap := e.Snapshot()
	if !snap.Initialized() {
		return models.Position{}, ErrNotHydrated
	}
	pos, ok := findPosition(snap.OpenPositions, id)
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !exitPrice.IsPositive() {
		return models.Position{}, fmt.Errorf("exit price must be positive, got %s", exitPrice)
	}
	accountID := snap.Account.ID
	log := observability.WithAccount(accountID).With("position_id", id, "symbol", pos.Symbol)

	if pos.Unconfirmed {
		realized := pos.PnLAt(exitPrice)
		closed, err := e.settle(accountID, id, exitPrice, e.clock.Now(), &realized, nil, nil)
		if err != nil {
			return models.Position{}, err
		}
		e.metrics.RecordTradeOperation("close", "local")
		log.Warn("closed unconfirmed position locally", "realized_pnl", realized.String())
		return closed, nil
	}

	ticket := e.beginClose()
	defer func() {
		if e.endClose(ticket) {
			e.resync(ctx)
		}
	}()

	res, err := e.client.ClosePosition(ctx, id, exitPrice)
	switch e.policy.OnClose(err) {
	case Expire:
		e.metrics.RecordTradeOperation("close", "expired")
		e.expire(ctx)
		return models.Position{}, err
	case Abandon:
		e.metrics.RecordTradeOperation("close", failureResult(err))
		log.Warn("close failed", "error", err)
		return models.Position{}, err
	}

	exit := exitPrice
	if res.ExitPrice != nil && res.ExitPrice.IsPositive() {
		exit = *res.ExitPrice
	}
	at := e.clock.Now()
	if res.ClosedAt != nil {
		at = *res.ClosedAt
	}

	closed, err := e.settle(accountID, id, exit, at, res.RealizedPnl, res.Account, &ticket)
	if err != nil {
		e.metrics.RecordTradeOperation("close", "error")
		log.Warn("discarding close result", "error", err)
		return models.Position{}, err
	}
	e.metrics.RecordTradeOperation("close", "ok")
	log.Info("position closed", "realized_pnl", closed.RealizedPnl.String(), "exit_price", exit.String())
	return closed, nil
}

// beginClose registers a server close. A close that starts while another is
// in flight, or that sees one start before it settles, is overlapped.
func (e *Engine) beginClose() closeTicket {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes.inflight++
	e.closes.gen++
	return closeTicket{gen: e.closes.gen, overlapped: e.closes.inflight > 1}
}

// endClose reports whether the last close in flight left the book needing a resync
func (e *Engine) endClose(t closeTicket) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes.inflight--
	if e.closes.inflight > 0 || !e.closes.resync {
		return false
	}
	e.closes.resync = false
	return e.state.Initialized()
}

func (e *Engine) resync(ctx context.Context) {
	observability.Info("overlapping closes disagreed with the server balance, re-hydrating")
	if _, err := e.Hydrate(ctx); err != nil {
		observability.Warn("re-hydrate after overlapping closes failed", "error", err)
	}
}

// settle moves id from open to closed and books the realized PnL into the
// balance. realized is the server's pnl when it sent one; otherwise it is the
// balance change, read under mu. When other closes overlapped this one the
// balance change mixes several trades, so the local formula is used instead
// and a server balance that disagrees with the local book is not applied.
func (e *Engine) settle(accountID, id string, exit decimal.Decimal, at time.Time, realized *decimal.Decimal, update *models.AccountUpdate, t *closeTicket) (models.Position, error) {
	var closed models.Position
	_, err := e.commit(accountID, func(s *models.LedgerSnapshot) error {
		idx := indexOf(s.OpenPositions, id)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
		}
		open := s.OpenPositions[idx]
		overlapped := t != nil && (t.overlapped || e.closes.gen != t.gen)
		serverBalance := update != nil && update.CurrentBalance != nil

		var pnl decimal.Decimal
		switch {
		case realized != nil:
			pnl = *realized
		case serverBalance && !overlapped:
			pnl = update.CurrentBalance.Sub(s.Account.CurrentBalance)
		case serverBalance:
			pnl = open.PnLAt(exit)
		default:
			return errors.New("close response carries neither pnl nor balance")
		}
		closed = open.Close(exit, pnl, at)

		acct := *s.Account
		acct.CurrentBalance = acct.CurrentBalance.Add(pnl)
		acct.Equity = acct.Equity.Sub(open.UnrealizedPnl).Add(pnl)
		if overlapped && serverBalance && !update.CurrentBalance.Equal(acct.CurrentBalance) {
			u := *update
			u.CurrentBalance = nil
			u.Equity = nil
			update = &u
			e.closes.resync = true
		}
		acct = update.Apply(acct)
		s.Account = &acct

		s.OpenPositions = append(s.OpenPositions[:idx], s.OpenPositions[idx+1:]...)
		s.ClosedPositions = append(s.ClosedPositions, closed)
		return nil
	})
	return closed, err
}

// Rollover starts a new trading day when now falls on a later UTC date than
// the account's trading day. The server value replaces it on the next hydrate.
func (e *Engine) Rollover(now time.Time) bool {
	day := tradingDay(now)
	e.mu.Lock()
	if !e.state.Initialized() || !day.After(e.state.Account.TradingDay) {
		e.mu.Unlock()
		return false
	}
	next := e.state.Clone()
	next.Account.DailyStartingEquity = next.Account.Equity
	next.Account.TradingDay = day
	e.annotate(&next)
	e.state = next
	out := next.Clone()
	e.mu.Unlock()

	observability.WithAccount(out.Account.ID).Info("trading day rolled over",
		"day", day.Format(time.DateOnly),
		"daily_starting_equity", out.Account.DailyStartingEquity.String())
	e.published(out)
	return true
}

// Login stores the session token and attaches it to the client
func (e *Engine) Login(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("empty session token")
	}
	e.setToken(token)
	if err := e.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("failed to persist session token: %w", err)
	}
	return nil
}

// RestoreSession attaches a previously stored token. It returns false when none exists.
func (e *Engine) RestoreSession(ctx context.Context) (bool, error) {
	token, err := e.store.LoadToken(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}
	e.setToken(token)
	return true, nil
}

// Logout drops the token, the cached snapshot and the in-memory ledger
func (e *Engine) Logout(ctx context.Context) error {
	e.setToken("")
	err := e.store.Clear(ctx)

	e.mu.Lock()
	e.state = models.LedgerSnapshot{}
	e.quotes = make(models.Quotes)
	e.closes.resync = false
	out := e.state.Clone()
	e.mu.Unlock()

	e.published(out)
	return err
}

func (e *Engine) expire(ctx context.Context) {
	observability.Warn("session expired, logging out")
	if err := e.Logout(ctx); err != nil {
		observability.Warn("failed to clear session cache", "error", err)
	}
	if e.onExpired != nil {
		e.onExpired()
	}
}

func (e *Engine) setToken(token string) {
	if th, ok := e.client.(TokenHolder); ok {
		th.SetToken(token)
	}
}

// commit applies mutate to a copy of the state and swaps it in. The result is
// discarded when the hydrated account is no longer accountID.
func (e *Engine) commit(accountID string, mutate func(*models.LedgerSnapshot) error) (models.LedgerSnapshot, error) {
	e.mu.Lock()
	if !e.state.Initialized() || e.state.Account.ID != accountID {
		e.mu.Unlock()
		return models.LedgerSnapshot{}, ErrAccountChanged
	}
	next := e.state.Clone()
	if err := mutate(&next); err != nil {
		e.mu.Unlock()
		return models.LedgerSnapshot{}, err
	}
	e.refresh(&next)
	e.state = next
	out := next.Clone()
	e.mu.Unlock()

	e.published(out)
	return out, nil
}

// refresh marks to market when every open position has a quote, then annotates.
// Callers hold mu.
func (e *Engine) refresh(s *models.LedgerSnapshot) {
	if !s.Initialized() {
		return
	}
	if quoted(s.OpenPositions, e.quotes) {
		acct, open := MarkToMarket(*s.Account, s.OpenPositions, e.quotes)
		s.Account = &acct
		s.OpenPositions = open
	}
	e.annotate(s)
}

func (e *Engine) annotate(s *models.LedgerSnapshot) {
	s.RiskAlert = risk.Breach(s.Account, s.Limits)
	s.ProfitProgress = profitProgress(s.Account, s.Limits)
}

func (e *Engine) published(snap models.LedgerSnapshot) {
	var confirmed, unconfirmed int
	for _, p := range snap.OpenPositions {
		if p.Unconfirmed {
			unconfirmed++
		} else {
			confirmed++
		}
	}
	var equity, daily float64
	if snap.Account != nil {
		equity = snap.Account.Equity.InexactFloat64()
		daily = snap.Account.DailyPnL().InexactFloat64()
	}
	e.metrics.SetLedgerState(confirmed, unconfirmed, equity, daily)
	e.subs.publish(snap)
}

func (e *Engine) limitsFor(ctx context.Context, acct *models.ChallengeAccount) models.RiskLimits {
	if e.plans != nil {
		plan, err := e.plans.Find(ctx, acct)
		switch {
		case err != nil:
			observability.Warn("plan lookup failed, using default limits", "error", err)
		case plan != nil:
			return plan.Limits(acct.InitialBalance)
		}
	}
	d := e.defaults
	return models.LimitsFromPercent(acct.InitialBalance, d.DailyLossPct, d.MaxDrawdownPct, d.ProfitTargetPct)
}

func failureResult(err error) string {
	if services.IsRejection(err) {
		return "rejected"
	}
	return "error"
}

func findPosition(positions []models.Position, id string) (models.Position, bool) {
	if i := indexOf(positions, id); i >= 0 {
		return positions[i], true
	}
	return models.Position{}, false
}

func indexOf(positions []models.Position, id string) int {
	for i := range positions {
		if positions[i].ID == id {
			return i
		}
	}
	return -1
}

func tradingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
