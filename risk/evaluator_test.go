package risk

import (
	"strings"
	"testing"

	"prop-ledger/models"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal { return models.DecimalPtr(decimal.NewFromInt(v)) }

// gatingAccount is the account from the daily loss gating scenario
func gatingAccount() *models.ChallengeAccount {
	return &models.ChallengeAccount{
		ID:                  "acct-1",
		Status:              models.AccountStatusActive,
		InitialBalance:      d(10000),
		CurrentBalance:      d(9600),
		Equity:              d(9600),
		DailyStartingEquity: d(10000),
	}
}

func gatingLimits() models.RiskLimits {
	return models.RiskLimits{DailyLossLimit: d(500), MaxDrawdown: d(1000), ProfitTarget: d(1000)}
}

func TestEvaluator_Validate(t *testing.T) {
	tests := []struct {
		name        string
		account     func() *models.ChallengeAccount
		intent      models.TradeIntent
		want        models.VerdictStatus
		msgContains string
	}{
		{
			name:    "no stop-loss is a warning even within the numeric limit",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(50), EntryPrice: d(100),
			},
			want:        models.VerdictWarning,
			msgContains: "no stop-loss",
		},
		{
			name:    "no stop-loss with the full amount crossing the daily floor is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(600), EntryPrice: d(100),
			},
			want:        models.VerdictBlocked,
			msgContains: "worst-case equity 9000.00 breaches the daily loss limit",
		},
		{
			name:    "stop-loss loss pushing equity to 9400 is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(80),
			},
			want:        models.VerdictBlocked,
			msgContains: "daily loss limit",
		},
		{
			name:    "sell stop-loss loss pushing equity below floor is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideSell, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(120),
			},
			want: models.VerdictBlocked,
		},
		{
			name:    "bounded loss within limits is approved",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(98),
			},
			want: models.VerdictApproved,
		},
		{
			name:    "loss landing exactly on the floor is approved",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(90),
			},
			want: models.VerdictApproved,
		},
		{
			name:    "stop-loss at the entry price is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(100),
			},
			want: models.VerdictBlocked,
		},
		{
			name:    "large notional with tight stop warns on exposure",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(20000), EntryPrice: d(1000), StopLoss: dp(995),
			},
			want:        models.VerdictWarning,
			msgContains: "exceeds",
		},
		{
			name: "failed account is blocked",
			account: func() *models.ChallengeAccount {
				a := gatingAccount()
				a.Status = models.AccountStatusFailed
				return a
			},
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(100), EntryPrice: d(100), StopLoss: dp(99),
			},
			want:        models.VerdictBlocked,
			msgContains: "FAILED",
		},
		{
			name: "passed account is blocked",
			account: func() *models.ChallengeAccount {
				a := gatingAccount()
				a.Status = models.AccountStatusPassed
				return a
			},
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(100), EntryPrice: d(100), StopLoss: dp(99),
			},
			want: models.VerdictBlocked,
		},
		{
			name: "equity already below the daily floor blocks new entries",
			account: func() *models.ChallengeAccount {
				a := gatingAccount()
				a.Equity = d(9400)
				return a
			},
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(100), EntryPrice: d(100), StopLoss: dp(99),
			},
			want: models.VerdictBlocked,
		},
		{
			name:    "missing symbol is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Side: models.SideBuy, Amount: d(100), EntryPrice: d(100),
			},
			want: models.VerdictBlocked,
		},
		{
			name:    "stop-loss above entry for a buy is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(100), EntryPrice: d(100), StopLoss: dp(101),
			},
			want: models.VerdictBlocked,
		},
		{
			name:    "take-profit below entry for a buy is blocked",
			account: gatingAccount,
			intent: models.TradeIntent{
				Symbol: "X", Side: models.SideBuy, Amount: d(100), EntryPrice: d(100), StopLoss: dp(99), TakeProfit: dp(95),
			},
			want: models.VerdictBlocked,
		},
	}

	e := NewEvaluator(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Validate(tt.intent, tt.account(), gatingLimits())
			if got.Status != tt.want {
				t.Errorf("Validate() status = %v, want %v (message %q)", got.Status, tt.want, got.Message)
			}
			if tt.msgContains != "" && !strings.Contains(got.Message, tt.msgContains) {
				t.Errorf("Validate() message = %q, want it to contain %q", got.Message, tt.msgContains)
			}
		})
	}
}

func TestEvaluator_Validate_NilAccount(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	got := e.Validate(models.TradeIntent{Symbol: "X"}, nil, gatingLimits())
	if got.Status != models.VerdictBlocked {
		t.Errorf("Validate(nil account) = %v, want BLOCKED", got.Status)
	}
}

func TestEvaluator_Validate_NoLimitsConfigured(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	intent := models.TradeIntent{Symbol: "X", Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(50)}

	got := e.Validate(intent, gatingAccount(), models.RiskLimits{})
	if got.Status != models.VerdictApproved {
		t.Errorf("Validate() with zero limits = %v (%s), want APPROVED", got.Status, got.Message)
	}
}

func TestProjectedLoss(t *testing.T) {
	tests := []struct {
		name   string
		intent models.TradeIntent
		want   decimal.Decimal
	}{
		{
			name:   "no stop uses the full amount",
			intent: models.TradeIntent{Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100)},
			want:   d(1000),
		},
		{
			name:   "buy stop distance scaled by units",
			intent: models.TradeIntent{Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(98)},
			want:   d(20),
		},
		{
			name:   "sell stop distance scaled by units",
			intent: models.TradeIntent{Side: models.SideSell, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(103)},
			want:   d(30),
		},
		{
			name:   "stop on the profitable side has no loss",
			intent: models.TradeIntent{Side: models.SideBuy, Amount: d(1000), EntryPrice: d(100), StopLoss: dp(110)},
			want:   decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProjectedLoss(tt.intent); !got.Equal(tt.want) {
				t.Errorf("ProjectedLoss() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreach(t *testing.T) {
	limits := gatingLimits()

	acct := gatingAccount()
	if alert := Breach(acct, limits); alert != nil {
		t.Errorf("Breach() = %+v, want nil at equity 9600", alert)
	}

	acct.Equity = d(9499)
	alert := Breach(acct, limits)
	if alert == nil {
		t.Fatal("expected a daily loss alert at equity 9499")
	}
	if alert.Status != models.VerdictWarning {
		t.Errorf("alert status = %v, want WARNING", alert.Status)
	}

	acct.DailyStartingEquity = d(8000)
	acct.Equity = d(8900)
	alert = Breach(acct, limits)
	if alert == nil || !strings.Contains(alert.Message, "drawdown") {
		t.Errorf("Breach() = %+v, want a drawdown alert", alert)
	}

	if Breach(nil, limits) != nil {
		t.Error("Breach(nil) should be nil")
	}
}
