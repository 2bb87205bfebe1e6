package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerSnapshot is the published, immutable view of the ledger state
type LedgerSnapshot struct {
	Account         *ChallengeAccount `json:"account"`
	Limits          RiskLimits        `json:"limits"`
	OpenPositions   []Position        `json:"open_positions"`
	ClosedPositions []Position        `json:"closed_positions"`
	Stale           bool              `json:"stale"`
	StaleReason     string            `json:"stale_reason,omitempty"`
	HydratedAt      time.Time         `json:"hydrated_at"`
	RiskAlert       *RiskVerdict      `json:"risk_alert,omitempty"`
	ProfitProgress  decimal.Decimal   `json:"profit_progress"`
}

// Initialized returns true if the snapshot holds an account
func (s *LedgerSnapshot) Initialized() bool {
	return s != nil && s.Account != nil
}

// Clone returns a deep copy safe to hand to readers
func (s LedgerSnapshot) Clone() LedgerSnapshot {
	out := s
	if s.Account != nil {
		acct := *s.Account
		out.Account = &acct
	}
	out.OpenPositions = append([]Position(nil), s.OpenPositions...)
	out.ClosedPositions = append([]Position(nil), s.ClosedPositions...)
	if s.RiskAlert != nil {
		alert := *s.RiskAlert
		out.RiskAlert = &alert
	}
	return out
}

// Confirmed returns a copy without any unconfirmed positions, suitable for caching
func (s LedgerSnapshot) Confirmed() LedgerSnapshot {
	out := s.Clone()
	out.OpenPositions = filterConfirmed(out.OpenPositions)
	out.ClosedPositions = filterConfirmed(out.ClosedPositions)
	return out
}

func filterConfirmed(in []Position) []Position {
	out := make([]Position, 0, len(in))
	for _, p := range in {
		if !p.Unconfirmed {
			out = append(out, p)
		}
	}
	return out
}
