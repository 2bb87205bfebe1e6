package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"prop-ledger/models"
	"prop-ledger/observability"
)

// scriptedSource answers from a per-symbol table; a missing entry or an
// entry in fail is an error.
type scriptedSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fail   map[string]bool
	calls  map[string]int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		prices: map[string]decimal.Decimal{},
		fail:   map[string]bool{},
		calls:  map[string]int{},
	}
}

func (s *scriptedSource) set(symbol string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = decimal.NewFromInt(price)
	s.fail[symbol] = false
}

func (s *scriptedSource) breakSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[symbol] = true
}

func (s *scriptedSource) Quote(ctx context.Context, symbol string) (models.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[symbol]++
	p, ok := s.prices[symbol]
	if !ok || s.fail[symbol] {
		return models.PriceQuote{}, errors.New("upstream unavailable")
	}
	return models.PriceQuote{Symbol: symbol, Price: p, ChangePct: decimal.NewFromFloat(1.5)}, nil
}

func newTestFeed(src *scriptedSource, clk clock.Clock) (*Feed, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(src, WithClock(clk), WithMetrics(metrics)), metrics
}

func TestPoll_ReturnsFreshQuotes(t *testing.T) {
	src := newScriptedSource()
	src.set("X", 105)
	src.set("Y", 50)
	f, metrics := newTestFeed(src, clock.NewMock())

	quotes := f.Poll(context.Background(), []string{"x", "Y", "X", ""})

	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d: %v", len(quotes), quotes)
	}
	if !quotes["X"].Price.Equal(decimal.NewFromInt(105)) {
		t.Errorf("X price = %s", quotes["X"].Price)
	}
	if quotes["X"].Stale {
		t.Error("fresh quote must not be stale")
	}
	if src.calls["X"] != 1 {
		t.Errorf("duplicate symbols should be polled once, got %d", src.calls["X"])
	}
	if got := testutil.ToFloat64(metrics.PriceFeedPollsTotal); got != 1 {
		t.Errorf("expected 1 poll recorded, got %f", got)
	}
}

func TestPoll_FailureCarriesLastQuoteWithZeroChange(t *testing.T) {
	src := newScriptedSource()
	src.set("X", 105)
	f, metrics := newTestFeed(src, clock.NewMock())
	ctx := context.Background()

	first := f.Poll(ctx, []string{"X"})
	if !first["X"].ChangePct.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("unexpected first quote %+v", first["X"])
	}

	src.breakSymbol("X")
	second := f.Poll(ctx, []string{"X"})

	q, ok := second["X"]
	if !ok {
		t.Fatal("a previously quoted symbol must never be omitted")
	}
	if !q.Price.Equal(decimal.NewFromInt(105)) {
		t.Errorf("carried price = %s, want 105", q.Price)
	}
	if !q.ChangePct.IsZero() {
		t.Errorf("carried change = %s, want 0", q.ChangePct)
	}
	if !q.Stale {
		t.Error("carried quote should be flagged stale")
	}
	if got := testutil.ToFloat64(metrics.QuoteFallbacksTotal.WithLabelValues("X")); got != 1 {
		t.Errorf("expected 1 fallback, got %f", got)
	}
}

func TestPoll_NeverQuotedSymbolIsOmitted(t *testing.T) {
	src := newScriptedSource()
	src.set("X", 105)
	f, _ := newTestFeed(src, clock.NewMock())

	quotes := f.Poll(context.Background(), []string{"X", "NOPE"})

	if _, ok := quotes["NOPE"]; ok {
		t.Error("symbol with no history should be omitted")
	}
	if _, ok := quotes["X"]; !ok {
		t.Error("X should be present")
	}
}

func TestPoll_RecoversAfterFailure(t *testing.T) {
	src := newScriptedSource()
	src.set("X", 105)
	f, _ := newTestFeed(src, clock.NewMock())
	ctx := context.Background()

	f.Poll(ctx, []string{"X"})
	src.breakSymbol("X")
	f.Poll(ctx, []string{"X"})
	src.set("X", 110)
	quotes := f.Poll(ctx, []string{"X"})

	if quotes["X"].Stale || !quotes["X"].Price.Equal(decimal.NewFromInt(110)) {
		t.Errorf("expected fresh quote at 110, got %+v", quotes["X"])
	}
}

func TestPoll_DefaultsTimestamp(t *testing.T) {
	src := newScriptedSource()
	src.set("X", 1)
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	f, _ := newTestFeed(src, mock)

	q := f.Poll(context.Background(), []string{"X"})["X"]
	if !q.AsOf.Equal(mock.Now().UTC()) {
		t.Errorf("AsOf = %s, want clock time", q.AsOf)
	}
}

func TestLatest_ReturnsCopy(t *testing.T) {
	src := newScriptedSource()
	src.set("X", 105)
	f, _ := newTestFeed(src, clock.NewMock())
	f.Poll(context.Background(), []string{"X"})

	latest := f.Latest()
	delete(latest, "X")

	if _, ok := f.Latest()["X"]; !ok {
		t.Error("mutating the returned map must not affect the feed")
	}
}

func TestWithRate(t *testing.T) {
	f := New(newScriptedSource(), WithRate(5))
	if f.limiter == nil {
		t.Fatal("expected a limiter")
	}
}
