package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "prop_ledger"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Ledger metrics
	HydrationsTotal         *prometheus.CounterVec
	TradeOperationsTotal    *prometheus.CounterVec
	DiscardedPositionsTotal prometheus.Counter
	OpenPositions           *prometheus.GaugeVec
	Equity                  prometheus.Gauge
	DailyPnL                prometheus.Gauge

	// Price feed metrics
	PriceFeedPollsTotal prometheus.Counter
	PriceFeedDuration   prometheus.Histogram
	QuoteFallbacksTotal *prometheus.CounterVec

	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Ledger metrics
		HydrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "hydrations_total",
				Help:      "Total number of hydrations by result (fresh, stale, empty, session_expired)",
			},
			[]string{"result"},
		),
		TradeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "trade_operations_total",
				Help:      "Total number of open/close operations by result",
			},
			[]string{"operation", "result"},
		),
		DiscardedPositionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "discarded_positions_total",
				Help:      "Total number of unconfirmed positions discarded by reconciliation",
			},
		),
		OpenPositions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "open_positions",
				Help:      "Current number of open positions by confirmation state",
			},
			[]string{"confirmed"},
		),
		Equity: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "equity",
				Help:      "Current account equity after the last mark-to-market",
			},
		),
		DailyPnL: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "daily_pnl",
				Help:      "Equity change since the start of the trading day",
			},
		),

		// Price feed metrics
		PriceFeedPollsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "price_feed",
				Name:      "polls_total",
				Help:      "Total number of price feed polls",
			},
		),
		PriceFeedDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "price_feed",
				Name:      "poll_duration_seconds",
				Help:      "Duration of a full price feed poll in seconds",
				Buckets:   defaultBuckets,
			},
		),
		QuoteFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "price_feed",
				Name:      "quote_fallbacks_total",
				Help:      "Total number of quotes carried over from the last known value",
			},
			[]string{"symbol"},
		),

		// Cache metrics
		CacheOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "operations_total",
				Help:      "Total number of persistent cache operations",
			},
			[]string{"backend", "operation", "result"},
		),

		// External API metrics
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// RecordHydration records the outcome of a hydrate call
func (m *Metrics) RecordHydration(result string) {
	m.HydrationsTotal.WithLabelValues(result).Inc()
}

// RecordTradeOperation records an open or close outcome
func (m *Metrics) RecordTradeOperation(operation, result string) {
	m.TradeOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordDiscardedPositions records unconfirmed positions dropped by reconciliation
func (m *Metrics) RecordDiscardedPositions(n int) {
	m.DiscardedPositionsTotal.Add(float64(n))
}

// SetLedgerState publishes the current ledger gauges
func (m *Metrics) SetLedgerState(confirmed, unconfirmed int, equity, dailyPnL float64) {
	m.OpenPositions.WithLabelValues("true").Set(float64(confirmed))
	m.OpenPositions.WithLabelValues("false").Set(float64(unconfirmed))
	m.Equity.Set(equity)
	m.DailyPnL.Set(dailyPnL)
}

// RecordPoll records a completed price feed poll
func (m *Metrics) RecordPoll(duration time.Duration) {
	m.PriceFeedPollsTotal.Inc()
	m.PriceFeedDuration.Observe(duration.Seconds())
}

// RecordQuoteFallback records a quote carried over after a failed refresh
func (m *Metrics) RecordQuoteFallback(symbol string) {
	m.QuoteFallbacksTotal.WithLabelValues(symbol).Inc()
}

// RecordCacheOperation records a persistent cache read or write
func (m *Metrics) RecordCacheOperation(backend, operation, result string) {
	m.CacheOperationsTotal.WithLabelValues(backend, operation, result).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// ObservePoll records the price feed poll duration
func (t *Timer) ObservePoll() {
	t.metrics.RecordPoll(time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
