package risk

import (
	"fmt"

	"prop-ledger/models"

	"github.com/shopspring/decimal"
)

// Validator classifies a trade intent against the current account
type Validator interface {
	Validate(intent models.TradeIntent, account *models.ChallengeAccount, limits models.RiskLimits) models.RiskVerdict
}

// Config holds configuration for risk evaluation
type Config struct {
	// RiskFraction is the share of equity risked per trade for smart sizing (0-1)
	RiskFraction decimal.Decimal

	// ExposureMultiple is the multiple of equity above which a notional draws a warning
	ExposureMultiple decimal.Decimal
}

// DefaultConfig returns the plan-recommended defaults
func DefaultConfig() Config {
	return Config{
		RiskFraction:     decimal.RequireFromString("0.01"), // 1% of equity per trade
		ExposureMultiple: decimal.NewFromInt(1),
	}
}

// Evaluator implements the client-side risk rules. The verdict is advisory: the
// server re-runs the same checks and its open-trade response is authoritative.
type Evaluator struct {
	config Config
}

// NewEvaluator creates a new Evaluator
func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Config returns the evaluator configuration
func (e *Evaluator) Config() Config {
	return e.config
}

// Validate returns BLOCKED, WARNING or APPROVED for the intent. Checks run in order:
//   - account must be ACTIVE
//   - intent must be well formed
//   - equity must not already sit below a loss floor
//   - the worst-case loss (stop distance, or the full amount without a stop)
//     must not push equity below a loss floor
//   - a missing stop-loss is a WARNING that the caller must confirm
//   - a notional above the exposure multiple of equity is a WARNING
func (e *Evaluator) Validate(intent models.TradeIntent, account *models.ChallengeAccount, limits models.RiskLimits) models.RiskVerdict {
	if account == nil {
		return models.Blocked("no challenge account loaded")
	}
	if account.Status != models.AccountStatusActive {
		return models.Blocked(fmt.Sprintf("account is %s, trading is disabled", account.Status))
	}

	if msg := malformed(intent); msg != "" {
		return models.Blocked(msg)
	}

	if alert := Breach(account, limits); alert != nil {
		return models.Blocked(alert.Message)
	}

	// without a stop the whole amount is at risk
	projected := account.Equity.Sub(ProjectedLoss(intent))
	if floorMsg := breachedFloor(projected, account, limits); floorMsg != "" {
		return models.Blocked(fmt.Sprintf("worst-case equity %s %s", projected.StringFixed(2), floorMsg))
	}

	if intent.StopLoss == nil {
		return models.Warning(fmt.Sprintf("no stop-loss set: potential loss is unbounded (up to the full amount of %s)", intent.Amount.StringFixed(2)))
	}

	if e.config.ExposureMultiple.IsPositive() {
		maxNotional := account.Equity.Mul(e.config.ExposureMultiple)
		if intent.Amount.GreaterThan(maxNotional) {
			return models.Warning(fmt.Sprintf("amount %s exceeds %sx account equity (%s)",
				intent.Amount.StringFixed(2), e.config.ExposureMultiple.String(), maxNotional.StringFixed(2)))
		}
	}

	return models.Approved()
}

// ProjectedLoss returns the worst-case loss of the intent: the distance to the
// stop-loss scaled by the implied units, or the full amount without a stop.
func ProjectedLoss(intent models.TradeIntent) decimal.Decimal {
	if intent.StopLoss == nil || intent.EntryPrice.IsZero() {
		return intent.Amount
	}
	p := intent.Position()
	loss := p.PnLAt(*intent.StopLoss).Neg()
	if loss.IsNegative() {
		return decimal.Zero
	}
	return loss
}

// Breach reports whether the account equity already sits below the daily loss or
// drawdown floor. It never changes the account status; the server decides FAILED.
func Breach(account *models.ChallengeAccount, limits models.RiskLimits) *models.RiskVerdict {
	if account == nil {
		return nil
	}
	if msg := breachedFloor(account.Equity, account, limits); msg != "" {
		v := models.Warning(fmt.Sprintf("equity %s %s", account.Equity.StringFixed(2), msg))
		return &v
	}
	return nil
}

func breachedFloor(equity decimal.Decimal, account *models.ChallengeAccount, limits models.RiskLimits) string {
	if limits.DailyLossLimit.IsPositive() {
		floor := limits.DailyFloor(account)
		if equity.LessThan(floor) {
			return fmt.Sprintf("breaches the daily loss limit (floor %s)", floor.StringFixed(2))
		}
	}
	if limits.MaxDrawdown.IsPositive() {
		floor := limits.DrawdownFloor(account)
		if equity.LessThan(floor) {
			return fmt.Sprintf("breaches the max drawdown (floor %s)", floor.StringFixed(2))
		}
	}
	return ""
}

func malformed(intent models.TradeIntent) string {
	switch {
	case intent.Symbol == "":
		return "symbol is required"
	case !intent.Side.Valid():
		return fmt.Sprintf("invalid side %q", intent.Side)
	case !intent.Amount.IsPositive():
		return "amount must be positive"
	case !intent.EntryPrice.IsPositive():
		return "entry price must be positive"
	}

	if intent.StopLoss != nil {
		sl := *intent.StopLoss
		if !sl.IsPositive() {
			return "stop-loss must be positive"
		}
		if intent.Side == models.SideBuy && sl.GreaterThanOrEqual(intent.EntryPrice) {
			return "stop-loss must be below the entry price for a BUY"
		}
		if intent.Side == models.SideSell && sl.LessThanOrEqual(intent.EntryPrice) {
			return "stop-loss must be above the entry price for a SELL"
		}
	}
	if intent.TakeProfit != nil {
		tp := *intent.TakeProfit
		if intent.Side == models.SideBuy && tp.LessThanOrEqual(intent.EntryPrice) {
			return "take-profit must be above the entry price for a BUY"
		}
		if intent.Side == models.SideSell && tp.GreaterThanOrEqual(intent.EntryPrice) {
			return "take-profit must be below the entry price for a SELL"
		}
	}
	return ""
}
