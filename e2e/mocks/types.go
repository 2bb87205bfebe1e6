package mocks

import (
	"bytes"
	"strconv"
)

// Number decodes a JSON number or a numeric string
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n *Number) ptr() *float64 {
	if n == nil || *n == 0 {
		return nil
	}
	v := float64(*n)
	return &v
}

// Account is the backend's challenge account payload.
type Account struct {
	ID                  string  `json:"id"`
	PlanID              string  `json:"plan_id,omitempty"`
	PlanName            string  `json:"plan_name"`
	InitialBalance      float64 `json:"initial_balance"`
	CurrentBalance      float64 `json:"current_balance"`
	Equity              float64 `json:"equity"`
	DailyStartingEquity float64 `json:"daily_starting_equity"`
	Status              string  `json:"status"`
}

// Trade is the backend's trade payload. Ids are numeric as in the real API.
type Trade struct {
	ID         int64    `json:"id"`
	Symbol     string   `json:"symbol"`
	Type       string   `json:"type"`
	Amount     float64  `json:"amount"`
	EntryPrice float64  `json:"entry_price"`
	SL         *float64 `json:"sl,omitempty"`
	TP         *float64 `json:"tp,omitempty"`
	Timestamp  string   `json:"timestamp"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	PnL        *float64 `json:"pnl,omitempty"`
	ClosedAt   string   `json:"closed_at,omitempty"`
}

// Plan is a plan catalog entry with percentage limits.
type Plan struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Capital        float64 `json:"capital"`
	ProfitTarget   float64 `json:"profitTarget"`
	DailyLossLimit float64 `json:"dailyLossLimit"`
	MaxDrawdown    float64 `json:"maxDrawdown"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
}

// Quote is the market quote payload.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	ChangePct float64 `json:"change_pct"`
	Timestamp string  `json:"timestamp"`
}

// OpenRequest is the body of POST /trading/open.
type OpenRequest struct {
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"`
	Amount     Number  `json:"amount"`
	EntryPrice Number  `json:"entry_price"`
	SL         *Number `json:"sl,omitempty"`
	TP         *Number `json:"tp,omitempty"`
	ClientID   string  `json:"client_id,omitempty"`
}

// CloseRequest is the body of POST /trading/close.
type CloseRequest struct {
	TradeID   string `json:"trade_id"`
	ExitPrice Number `json:"exit_price"`
}
