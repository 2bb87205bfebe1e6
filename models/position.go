package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Position is a single trade owned by a challenge account. Amount is a notional in
// account currency (already leverage-adjusted); Amount/EntryPrice recovers the
// implied unit quantity.
type Position struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Side        Side             `json:"side"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	Amount      decimal.Decimal  `json:"amount"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	Unconfirmed bool             `json:"unconfirmed,omitempty"`

	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`

	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	RealizedPnl *decimal.Decimal `json:"realized_pnl,omitempty"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}

// Units returns the implied unit quantity of the notional
func (p *Position) Units() decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.Amount.Div(p.EntryPrice)
}

// PnLAt computes the profit or loss of the position if marked at price.
// The multiplication happens before the division so that whole-number notionals
// and prices stay exact.
func (p *Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() || price.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Amount).Div(p.EntryPrice)
}

// IsClosed returns true once the terminal close fields have been attached
func (p *Position) IsClosed() bool {
	return p.ClosedAt != nil
}

// Close returns a closed copy of the position. Amount and EntryPrice are never touched.
func (p Position) Close(exitPrice, realized decimal.Decimal, at time.Time) Position {
	closed := p
	exit := exitPrice
	pnl := realized
	closedAt := at
	closed.ExitPrice = &exit
	closed.RealizedPnl = &pnl
	closed.ClosedAt = &closedAt
	closed.UnrealizedPnl = decimal.Zero
	return closed
}

// DecimalPtr is a helper for optional decimal fields
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
