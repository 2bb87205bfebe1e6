package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrZeroStopDistance is returned when the stop-loss equals the current price
var ErrZeroStopDistance = errors.New("stop-loss equals current price: cannot size a position with zero risk distance")

// Sizing is the result of a smart position sizing calculation
type Sizing struct {
	RiskAmount      decimal.Decimal `json:"risk_amount"`
	Distance        decimal.Decimal `json:"distance"`
	SuggestedAmount decimal.Decimal `json:"suggested_amount"`
}

// SuggestAmount sizes a notional so that hitting stopLoss loses exactly
// equity*fraction:
//
//	riskAmount      = equity * fraction
//	distance        = |currentPrice - stopLoss|
//	suggestedAmount = riskAmount / distance * currentPrice
func SuggestAmount(equity, fraction, currentPrice, stopLoss decimal.Decimal) (Sizing, error) {
	if !equity.IsPositive() {
		return Sizing{}, errors.New("equity must be positive")
	}
	if !fraction.IsPositive() || fraction.GreaterThan(decimal.NewFromInt(1)) {
		return Sizing{}, errors.New("risk fraction must be in (0, 1]")
	}
	if !currentPrice.IsPositive() {
		return Sizing{}, errors.New("current price must be positive")
	}

	distance := currentPrice.Sub(stopLoss).Abs()
	if distance.IsZero() {
		return Sizing{}, ErrZeroStopDistance
	}

	riskAmount := equity.Mul(fraction)
	return Sizing{
		RiskAmount:      riskAmount,
		Distance:        distance,
		SuggestedAmount: riskAmount.Mul(currentPrice).Div(distance),
	}, nil
}

// SuggestAmount sizes a position using the evaluator's configured risk fraction
func (e *Evaluator) SuggestAmount(equity, currentPrice, stopLoss decimal.Decimal) (Sizing, error) {
	return SuggestAmount(equity, e.config.RiskFraction, currentPrice, stopLoss)
}
