// Package feed polls per-symbol price quotes and keeps the latest value of
// each symbol it has seen.
package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/ratelimit"

	"prop-ledger/models"
	"prop-ledger/observability"
	"prop-ledger/services"
)

// Feed polls a QuoteSource. A symbol that fails to refresh is reported with
// its last known price and a zero change, so callers never see a gap for a
// symbol that has been quoted before.
type Feed struct {
	source  services.QuoteSource
	limiter ratelimit.Limiter
	clock   clock.Clock
	metrics *observability.Metrics

	mu   sync.RWMutex
	last models.Quotes
}

// Option configures a Feed
type Option func(*Feed)

// WithRate limits quote requests to n per second
func WithRate(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.limiter = ratelimit.New(n, ratelimit.Per(time.Second))
		}
	}
}

// WithLimiter sets the request limiter
func WithLimiter(l ratelimit.Limiter) Option {
	return func(f *Feed) { f.limiter = l }
}

// WithClock sets the time source
func WithClock(c clock.Clock) Option {
	return func(f *Feed) { f.clock = c }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// New creates a Feed over source
func New(source services.QuoteSource, opts ...Option) *Feed {
	f := &Feed{
		source:  source,
		limiter: ratelimit.NewUnlimited(),
		clock:   clock.New(),
		last:    make(models.Quotes),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = observability.GetMetrics()
	}
	return f
}

// Poll fetches every symbol and returns the resulting quotes. It never
// returns an error: per-symbol failures fall back to the last known quote,
// and symbols never quoted successfully are left out.
func (f *Feed) Poll(ctx context.Context, symbols []string) models.Quotes {
	start := f.clock.Now()
	symbols = normalize(symbols)

	type result struct {
		symbol string
		quote  models.PriceQuote
		err    error
	}
	results := make(chan result, len(symbols))

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			if ctx.Err() != nil {
				results <- result{symbol: sym, err: ctx.Err()}
				return
			}
			f.limiter.Take()
			q, err := f.source.Quote(ctx, sym)
			results <- result{symbol: sym, quote: q, err: err}
		}(sym)
	}
	wg.Wait()
	close(results)

	out := make(models.Quotes, len(symbols))
	f.mu.Lock()
	for r := range results {
		if r.err == nil {
			r.quote.Symbol = r.symbol
			if r.quote.AsOf.IsZero() {
				r.quote.AsOf = f.clock.Now().UTC()
			}
			f.last[r.symbol] = r.quote
			out[r.symbol] = r.quote
			continue
		}

		prev, ok := f.last[r.symbol]
		if !ok {
			observability.WithSymbol(r.symbol).Warn("quote unavailable and no previous quote", "error", r.err)
			continue
		}
		carried := prev.Carried()
		f.last[r.symbol] = carried
		out[r.symbol] = carried
		f.metrics.RecordQuoteFallback(r.symbol)
		observability.WithSymbol(r.symbol).Warn("quote refresh failed, carrying last price", "error", r.err)
	}
	f.mu.Unlock()

	f.metrics.RecordPoll(f.clock.Since(start))
	return out
}

// Latest returns a copy of the most recent quote of every symbol seen
func (f *Feed) Latest() models.Quotes {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(models.Quotes, len(f.last))
	for k, v := range f.last {
		out[k] = v
	}
	return out
}

// normalize upper-cases, de-duplicates and sorts symbols
func normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
