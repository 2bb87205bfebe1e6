package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"

	"prop-ledger/observability"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func newTestRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	return NewCircuitBreakerRegistry(config, testMetrics())
}

func TestNewCircuitBreakerRegistry(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 4,
	}

	registry := newTestRegistry(config)

	if registry == nil {
		t.Fatal("expected registry to be created")
	}
	if registry.breakers == nil {
		t.Error("expected breakers map to be initialized")
	}
	if registry.config != config {
		t.Error("expected config to be set")
	}
}

func TestNewCircuitBreakerRegistry_DefaultsThreshold(t *testing.T) {
	registry := newTestRegistry(CircuitBreakerConfig{MaxRequests: 1})
	if registry.config.FailureThreshold != DefaultCircuitBreakerConfig.FailureThreshold {
		t.Errorf("expected default threshold, got %d", registry.config.FailureThreshold)
	}
}

func TestCircuitBreakerRegistry_GetBreaker(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)

	breaker1 := registry.GetBreaker("test-service")
	if breaker1 == nil {
		t.Fatal("expected breaker to be created")
	}

	breaker2 := registry.GetBreaker("test-service")
	if breaker1 != breaker2 {
		t.Error("expected same breaker instance")
	}

	breaker3 := registry.GetBreaker("other-service")
	if breaker1 == breaker3 {
		t.Error("expected different breaker for different name")
	}
}

func TestCircuitBreakerRegistry_Execute_Success(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)

	result, err := registry.Execute(context.Background(), "test-service", func() (any, error) {
		return "success", nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
}

func TestCircuitBreakerRegistry_Execute_ContextCanceled(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := registry.Execute(ctx, "test-service", func() (any, error) {
		return "should not reach", nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerRegistry_OnlyTransientFailuresCount(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)
	ctx := context.Background()

	_, _ = registry.Execute(ctx, "svc", func() (any, error) {
		return nil, &RejectionError{Op: "open", StatusCode: 422, Message: "no"}
	})
	_, _ = registry.Execute(ctx, "svc", func() (any, error) {
		return nil, ErrSessionExpired
	})
	_, _ = registry.Execute(ctx, "svc", func() (any, error) {
		return nil, transient("connection refused")
	})

	status := registry.Status()["svc"]
	if status.TotalSuccesses != 2 {
		t.Errorf("expected rejection and 401 to count as successes, got %d", status.TotalSuccesses)
	}
	if status.TotalFailures != 1 {
		t.Errorf("expected 1 failure, got %d", status.TotalFailures)
	}
}

func TestCircuitBreakerRegistry_TripsAfterTransientFailures(t *testing.T) {
	metrics := testMetrics()
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         1 * time.Minute,
		Timeout:          1 * time.Second,
		FailureThreshold: 5,
	}, metrics)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = registry.Execute(ctx, "failing-service", func() (any, error) {
			return nil, transient("fail")
		})
	}

	status := registry.Status()
	if status["failing-service"].State != "open" {
		t.Errorf("expected breaker to be open, got %s", status["failing-service"].State)
	}

	_, err := registry.Execute(ctx, "failing-service", func() (any, error) {
		return "should not execute", nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected wrapped ErrOpenState, got %v", err)
	}

	if got := testutil.ToFloat64(metrics.CircuitBreakerTrips.WithLabelValues("failing-service")); got != 1 {
		t.Errorf("expected 1 trip recorded, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("failing-service")); got != 2 {
		t.Errorf("expected open state gauge 2, got %f", got)
	}
}

func TestWithCircuitBreaker_Success(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)

	result, err := WithCircuitBreaker(context.Background(), registry, "test", func() (string, error) {
		return "hello", nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "hello" {
		t.Errorf("expected 'hello', got %s", result)
	}
}

func TestWithCircuitBreaker_Error(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)
	expectedErr := errors.New("test error")

	result, err := WithCircuitBreaker(context.Background(), registry, "test", func() (string, error) {
		return "", expectedErr
	})

	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
	if result != "" {
		t.Errorf("expected empty string, got %s", result)
	}
}

func TestWithCircuitBreaker_OpenIsTransient(t *testing.T) {
	registry := newTestRegistry(CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = WithCircuitBreaker(ctx, registry, BreakerTrading, func() (int, error) {
			return 0, transient("down")
		})
	}

	_, err := WithCircuitBreaker(ctx, registry, BreakerTrading, func() (int, error) {
		return 1, nil
	})
	if !IsTransient(err) {
		t.Errorf("expected breaker rejection to be transient, got %v", err)
	}
}

func TestWithCircuitBreaker_TypedResults(t *testing.T) {
	registry := newTestRegistry(DefaultCircuitBreakerConfig)

	type result struct {
		Value int
	}

	got, err := WithCircuitBreaker(context.Background(), registry, "typed-test", func() (*result, error) {
		return &result{Value: 42}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != 42 {
		t.Errorf("unexpected result: %+v", got)
	}

	slice, err := WithCircuitBreaker(context.Background(), registry, "slice-test", func() ([]int, error) {
		return []int{1, 2, 3}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slice) != 3 {
		t.Errorf("expected 3 items, got %d", len(slice))
	}
}

func TestStateToInt(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		want  int
	}{
		{gobreaker.StateClosed, 0},
		{gobreaker.StateHalfOpen, 1},
		{gobreaker.StateOpen, 2},
	}
	for _, tt := range tests {
		if got := stateToInt(tt.state); got != tt.want {
			t.Errorf("stateToInt(%s) = %d, want %d", tt.state, got, tt.want)
		}
	}
}
