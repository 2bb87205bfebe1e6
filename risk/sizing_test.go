package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSuggestAmount(t *testing.T) {
	got, err := SuggestAmount(d(10000), decimal.RequireFromString("0.01"), d(100), d(98))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got.RiskAmount.Equal(d(100)) {
		t.Errorf("RiskAmount = %v, want 100", got.RiskAmount)
	}
	if !got.Distance.Equal(d(2)) {
		t.Errorf("Distance = %v, want 2", got.Distance)
	}
	if !got.SuggestedAmount.Equal(d(5000)) {
		t.Errorf("SuggestedAmount = %v, want 5000", got.SuggestedAmount)
	}
}

func TestSuggestAmount_StopAbovePrice(t *testing.T) {
	got, err := SuggestAmount(d(10000), decimal.RequireFromString("0.01"), d(100), d(104))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.SuggestedAmount.Equal(d(2500)) {
		t.Errorf("SuggestedAmount = %v, want 2500", got.SuggestedAmount)
	}
}

func TestSuggestAmount_Errors(t *testing.T) {
	onePct := decimal.RequireFromString("0.01")

	tests := []struct {
		name     string
		equity   decimal.Decimal
		fraction decimal.Decimal
		price    decimal.Decimal
		stop     decimal.Decimal
		wantErr  error
	}{
		{"zero distance", d(10000), onePct, d(100), d(100), ErrZeroStopDistance},
		{"zero equity", decimal.Zero, onePct, d(100), d(98), nil},
		{"zero fraction", d(10000), decimal.Zero, d(100), d(98), nil},
		{"fraction above one", d(10000), d(2), d(100), d(98), nil},
		{"zero price", d(10000), onePct, decimal.Zero, d(98), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SuggestAmount(tt.equity, tt.fraction, tt.price, tt.stop)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluator_SuggestAmount_UsesConfiguredFraction(t *testing.T) {
	e := NewEvaluator(Config{RiskFraction: decimal.RequireFromString("0.02")})

	got, err := e.SuggestAmount(d(10000), d(100), d(98))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.SuggestedAmount.Equal(d(10000)) {
		t.Errorf("SuggestedAmount = %v, want 10000", got.SuggestedAmount)
	}
}
