package models

import "github.com/shopspring/decimal"

// Plan is a funding tier from the plan catalog. ProfitTarget, DailyLossLimit and
// MaxDrawdown are percentages of Capital.
type Plan struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Capital        decimal.Decimal `json:"capital" yaml:"capital"`
	ProfitTarget   decimal.Decimal `json:"profit_target" yaml:"profit_target"`
	DailyLossLimit decimal.Decimal `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown" yaml:"max_drawdown"`
	Price          decimal.Decimal `json:"price" yaml:"price"`
	Currency       string          `json:"currency" yaml:"currency"`
}

// RiskLimits are the absolute thresholds of a challenge in account currency
type RiskLimits struct {
	DailyLossLimit decimal.Decimal `json:"daily_loss_limit"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	ProfitTarget   decimal.Decimal `json:"profit_target"`
}

var hundred = decimal.NewFromInt(100)

// Limits converts the plan percentages into amounts. When the plan has no capital
// the account's initial balance is used as the base.
func (p *Plan) Limits(initialBalance decimal.Decimal) RiskLimits {
	base := p.Capital
	if !base.IsPositive() {
		base = initialBalance
	}
	return LimitsFromPercent(base, p.DailyLossLimit, p.MaxDrawdown, p.ProfitTarget)
}

// LimitsFromPercent builds RiskLimits from percentages of base
func LimitsFromPercent(base, dailyLossPct, maxDrawdownPct, profitTargetPct decimal.Decimal) RiskLimits {
	return RiskLimits{
		DailyLossLimit: base.Mul(dailyLossPct).Div(hundred),
		MaxDrawdown:    base.Mul(maxDrawdownPct).Div(hundred),
		ProfitTarget:   base.Mul(profitTargetPct).Div(hundred),
	}
}

// DailyFloor is the equity below which the daily loss limit is breached
func (l RiskLimits) DailyFloor(account *ChallengeAccount) decimal.Decimal {
	return account.DailyStartingEquity.Sub(l.DailyLossLimit)
}

// DrawdownFloor is the equity below which the max drawdown is breached
func (l RiskLimits) DrawdownFloor(account *ChallengeAccount) decimal.Decimal {
	return account.InitialBalance.Sub(l.MaxDrawdown)
}
