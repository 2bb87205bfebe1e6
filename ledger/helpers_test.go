package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"prop-ledger/cache"
	"prop-ledger/models"
	"prop-ledger/observability"
	"prop-ledger/services"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal { return models.DecimalPtr(decimal.NewFromInt(v)) }

var testNow = time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)

func testAccount() *models.ChallengeAccount {
	return &models.ChallengeAccount{
		ID:                  "acc-1",
		PlanName:            "Starter",
		InitialBalance:      d(10000),
		CurrentBalance:      d(10000),
		Equity:              d(10000),
		DailyStartingEquity: d(10000),
		Status:              models.AccountStatusActive,
	}
}

// fakeClient is an in-memory trading API
type fakeClient struct {
	mu       sync.Mutex
	account  *models.ChallengeAccount
	open     []models.Position
	closed   []models.Position
	fetchErr error
	token    string

	openFn  func(intent models.TradeIntent, opts services.OpenOptions) (*services.OpenResult, error)
	closeFn func(id string, exit decimal.Decimal) (*services.CloseResult, error)

	openCalls  int
	closeCalls int
	lastOpen   services.OpenOptions
}

func newFakeClient() *fakeClient {
	return &fakeClient{account: testAccount()}
}

func (f *fakeClient) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeClient) Open(_ context.Context, intent models.TradeIntent, opts services.OpenOptions) (*services.OpenResult, error) {
	f.mu.Lock()
	f.openCalls++
	f.lastOpen = opts
	fn := f.openFn
	f.mu.Unlock()
	if fn != nil {
		return fn(intent, opts)
	}
	p := intent.Position()
	p.ID = "srv-1"
	p.OpenedAt = testNow
	return &services.OpenResult{Position: p}, nil
}

func (f *fakeClient) ClosePosition(_ context.Context, id string, exit decimal.Decimal) (*services.CloseResult, error) {
	f.mu.Lock()
	f.closeCalls++
	fn := f.closeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(id, exit)
	}
	return &services.CloseResult{RealizedPnl: dp(0)}, nil
}

func (f *fakeClient) FetchAccount(context.Context) (*models.ChallengeAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	acct := *f.account
	return &acct, nil
}

func (f *fakeClient) FetchOpenPositions(context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]models.Position(nil), f.open...), nil
}

func (f *fakeClient) FetchClosedPositions(context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]models.Position(nil), f.closed...), nil
}

func (f *fakeClient) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func (f *fakeClient) calls() (open, close int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls, f.closeCalls
}

func transientErr(op string) error {
	return &services.TransientError{Op: op, Err: context.DeadlineExceeded, Timeout: true}
}

type testEnv struct {
	engine  *Engine
	client  *fakeClient
	cache   *cache.Cache
	clock   *clock.Mock
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mock := clock.NewMock()
	mock.Set(testNow)
	env := &testEnv{
		client:  newFakeClient(),
		cache:   cache.New(cache.NewMemoryStore(), "memory", metrics),
		clock:   mock,
		metrics: metrics,
	}
	all := append([]Option{WithClock(mock), WithMetrics(metrics)}, opts...)
	env.engine = New(env.client, env.cache, all...)
	return env
}

func (env *testEnv) hydrate(t *testing.T) models.LedgerSnapshot {
	t.Helper()
	snap, err := env.engine.Hydrate(context.Background())
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	return snap
}
