package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"prop-ledger/observability"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	MaxRequests      uint32        // max requests allowed in half-open state
	Interval         time.Duration // cyclic period of the closed state to clear counts
	Timeout          time.Duration // period of the open state before transitioning to half-open
	FailureThreshold uint32        // minimum requests before the failure ratio is considered
}

// DefaultCircuitBreakerConfig returns the defaults used when nothing is configured
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	MaxRequests:      3,
	Interval:         1 * time.Minute,
	Timeout:          30 * time.Second,
	FailureThreshold: 5,
}

// CircuitBreakerRegistry manages circuit breakers for different services
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	config   CircuitBreakerConfig
	metrics  *observability.Metrics
}

// NewCircuitBreakerRegistry creates a new registry with the given config
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, metrics *observability.Metrics) *CircuitBreakerRegistry {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig.FailureThreshold
	}
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		config:   config,
		metrics:  metrics,
	}
}

// GetBreaker returns (or creates) a circuit breaker for the given service name
func (r *CircuitBreakerRegistry) GetBreaker(name string) *gobreaker.CircuitBreaker[any] {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	threshold := r.config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: r.config.MaxRequests,
		Interval:    r.config.Interval,
		Timeout:     r.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		// The server answering, even with a rejection or a 401, means the
		// service is reachable; only transport failures count against it.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			observability.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())

			r.metrics.SetCircuitBreakerState(name, stateToInt(to))
			if to == gobreaker.StateOpen {
				r.metrics.RecordCircuitBreakerTrip(name)
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[name] = cb

	return cb
}

// Execute runs the given function through the named circuit breaker
func (r *CircuitBreakerRegistry) Execute(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	cb := r.GetBreaker(name)

	result, err := cb.Execute(func() (any, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			observability.Warn("circuit breaker open, rejecting request",
				"breaker", name)
			return nil, fmt.Errorf("service %s unavailable: %w", name, err)
		}
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.Warn("circuit breaker half-open, too many requests",
				"breaker", name)
			return nil, fmt.Errorf("service %s unavailable: %w", name, err)
		}
	}

	return result, err
}

// Status returns the current state of all circuit breakers
func (r *CircuitBreakerRegistry) Status() map[string]CircuitBreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]CircuitBreakerStatus)
	for name, cb := range r.breakers {
		counts := cb.Counts()
		status[name] = CircuitBreakerStatus{
			Name:             name,
			State:            cb.State().String(),
			Requests:         counts.Requests,
			TotalSuccesses:   counts.TotalSuccesses,
			TotalFailures:    counts.TotalFailures,
			ConsecutiveSucc:  counts.ConsecutiveSuccesses,
			ConsecutiveFails: counts.ConsecutiveFailures,
		}
	}
	return status
}

// CircuitBreakerStatus represents the current state of a circuit breaker
type CircuitBreakerStatus struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	Requests         uint32 `json:"requests"`
	TotalSuccesses   uint32 `json:"total_successes"`
	TotalFailures    uint32 `json:"total_failures"`
	ConsecutiveSucc  uint32 `json:"consecutive_successes"`
	ConsecutiveFails uint32 `json:"consecutive_failures"`
}

// WithCircuitBreaker wraps a typed function call with circuit breaker
// protection. Breaker rejections come back as TransientError.
func WithCircuitBreaker[T any](ctx context.Context, r *CircuitBreakerRegistry, name string, fn func() (T, error)) (T, error) {
	result, err := r.Execute(ctx, name, func() (any, error) {
		return fn()
	})

	if err != nil {
		var zero T
		return zero, classifyBreakerError(name, err)
	}

	v, _ := result.(T)
	return v, nil
}

// Circuit breaker names for external services
const (
	BreakerTrading = "trading"
	BreakerQuotes  = "quotes"
	BreakerAlpaca  = "alpaca"
	BreakerPlans   = "plans"
)

// stateToInt converts a circuit breaker state to an integer for metrics
// 0=closed, 1=half-open, 2=open
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
