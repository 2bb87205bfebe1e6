package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of a challenge account
type AccountStatus string

const (
	AccountStatusPending AccountStatus = "PENDING"
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusPassed  AccountStatus = "PASSED"
	AccountStatusFailed  AccountStatus = "FAILED"
	AccountStatusFunded  AccountStatus = "FUNDED"
)

// ParseAccountStatus normalizes a backend status string. Unknown values map to PENDING
// so that an unrecognized state can never unlock trading.
func ParseAccountStatus(s string) AccountStatus {
	switch AccountStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case AccountStatusActive:
		return AccountStatusActive
	case AccountStatusPassed:
		return AccountStatusPassed
	case AccountStatusFailed:
		return AccountStatusFailed
	case AccountStatusFunded:
		return AccountStatusFunded
	default:
		return AccountStatusPending
	}
}

// IsTerminal reports whether no further positions may ever be opened in this state
func (s AccountStatus) IsTerminal() bool {
	return s == AccountStatusPassed || s == AccountStatusFailed || s == AccountStatusFunded
}

// ChallengeAccount is a funded-trading evaluation account
type ChallengeAccount struct {
	ID                  string          `json:"id"`
	PlanID              string          `json:"plan_id,omitempty"`
	PlanName            string          `json:"plan_name,omitempty"`
	Currency            string          `json:"currency,omitempty"`
	InitialBalance      decimal.Decimal `json:"initial_balance"`
	CurrentBalance      decimal.Decimal `json:"current_balance"`
	Equity              decimal.Decimal `json:"equity"`
	DailyStartingEquity decimal.Decimal `json:"daily_starting_equity"`
	Status              AccountStatus   `json:"status"`
	TradingDay          time.Time       `json:"trading_day"`
}

// CanTrade returns true if new positions may be opened
func (a *ChallengeAccount) CanTrade() bool {
	return a != nil && a.Status == AccountStatusActive
}

// TotalPnL returns the cumulative profit or loss against the initial balance
func (a *ChallengeAccount) TotalPnL() decimal.Decimal {
	return a.Equity.Sub(a.InitialBalance)
}

// DailyPnL returns the profit or loss since the start of the trading day
func (a *ChallengeAccount) DailyPnL() decimal.Decimal {
	return a.Equity.Sub(a.DailyStartingEquity)
}

// AccountUpdate is a partial account returned by an open or close call.
// Nil fields and an empty Status leave the current value in place.
type AccountUpdate struct {
	CurrentBalance      *decimal.Decimal `json:"current_balance,omitempty"`
	Equity              *decimal.Decimal `json:"equity,omitempty"`
	DailyStartingEquity *decimal.Decimal `json:"daily_starting_equity,omitempty"`
	Status              AccountStatus    `json:"status,omitempty"`
}

// Apply returns a copy of acct with the update's fields overlaid
func (u *AccountUpdate) Apply(acct ChallengeAccount) ChallengeAccount {
	if u == nil {
		return acct
	}
	if u.CurrentBalance != nil {
		acct.CurrentBalance = *u.CurrentBalance
	}
	if u.Equity != nil {
		acct.Equity = *u.Equity
	}
	if u.DailyStartingEquity != nil {
		acct.DailyStartingEquity = *u.DailyStartingEquity
	}
	if u.Status != "" {
		acct.Status = u.Status
	}
	return acct
}
