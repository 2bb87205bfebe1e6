package models

import "github.com/shopspring/decimal"

// TradeIntent is a request to open a position
type TradeIntent struct {
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Amount     decimal.Decimal  `json:"amount"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// Position returns the unconfirmed position the intent would create
func (i TradeIntent) Position() Position {
	return Position{
		Symbol:     i.Symbol,
		Side:       i.Side,
		EntryPrice: i.EntryPrice,
		Amount:     i.Amount,
		StopLoss:   i.StopLoss,
		TakeProfit: i.TakeProfit,
	}
}

type VerdictStatus string

const (
	VerdictApproved VerdictStatus = "APPROVED"
	VerdictWarning  VerdictStatus = "WARNING"
	VerdictBlocked  VerdictStatus = "BLOCKED"
)

// RiskVerdict is the transient outcome of a risk check. It is never persisted.
type RiskVerdict struct {
	Status  VerdictStatus `json:"status"`
	Message string        `json:"message"`
}

func Approved() RiskVerdict {
	return RiskVerdict{Status: VerdictApproved, Message: "trade within risk limits"}
}

func Warning(msg string) RiskVerdict {
	return RiskVerdict{Status: VerdictWarning, Message: msg}
}

func Blocked(msg string) RiskVerdict {
	return RiskVerdict{Status: VerdictBlocked, Message: msg}
}
