package ledger

import (
	"errors"

	"prop-ledger/models"
)

var (
	// ErrNotHydrated is returned by trade operations before an account is loaded
	ErrNotHydrated = errors.New("ledger not hydrated")

	// ErrPositionNotFound is returned when closing an id that is not open
	ErrPositionNotFound = errors.New("position not found")

	// ErrAccountChanged is returned when a result arrives for an account that is
	// no longer the hydrated one. The result is discarded.
	ErrAccountChanged = errors.New("account changed while the request was in flight")

	ErrTradeBlocked         = errors.New("trade blocked by risk rules")
	ErrConfirmationRequired = errors.New("trade requires explicit confirmation")
)

// RiskError carries the verdict that stopped an open before any server call.
// It matches ErrTradeBlocked or ErrConfirmationRequired with errors.Is.
type RiskError struct {
	Verdict models.RiskVerdict
}

func (e *RiskError) Error() string {
	if e.Verdict.Status == models.VerdictBlocked {
		return "trade blocked: " + e.Verdict.Message
	}
	return "confirmation required: " + e.Verdict.Message
}

func (e *RiskError) Is(target error) bool {
	switch target {
	case ErrTradeBlocked:
		return e.Verdict.Status == models.VerdictBlocked
	case ErrConfirmationRequired:
		return e.Verdict.Status == models.VerdictWarning
	}
	return false
}
