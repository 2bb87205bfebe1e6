package ledger

import (
	"errors"

	"prop-ledger/models"
	"prop-ledger/services"
)

// Decision is what the engine does with the outcome of a server call
type Decision int

const (
	// Accept applies the server result
	Accept Decision = iota
	// Fallback serves the cached snapshot on hydrate or appends an unconfirmed
	// position on open
	Fallback
	// Abandon surfaces the error and leaves the ledger untouched
	Abandon
	// Expire logs the session out
	Expire
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Fallback:
		return "fallback"
	case Abandon:
		return "abandon"
	case Expire:
		return "expire"
	default:
		return "unknown"
	}
}

// ReconciliationPolicy decides how server outcomes and local state combine.
// Server truth always wins on hydrate; optimistic positions are provisional and
// disappear at the next successful hydrate unless the server reports them.
type ReconciliationPolicy struct {
	// OptimisticOpen allows an unconfirmed local position when an open fails
	// on the network
	OptimisticOpen bool
}

// DefaultPolicy enables optimistic opens
func DefaultPolicy() ReconciliationPolicy {
	return ReconciliationPolicy{OptimisticOpen: true}
}

// OnHydrate falls back to the cache on any failure except an expired session
func (p ReconciliationPolicy) OnHydrate(err error) Decision {
	switch {
	case err == nil:
		return Accept
	case errors.Is(err, services.ErrSessionExpired):
		return Expire
	default:
		return Fallback
	}
}

// OnOpen falls back to an optimistic position only on transient failures.
// A rejection, including a server rejection of a client-approved trade, is
// surfaced without retrying.
func (p ReconciliationPolicy) OnOpen(err error) Decision {
	switch {
	case err == nil:
		return Accept
	case errors.Is(err, services.ErrSessionExpired):
		return Expire
	case p.OptimisticOpen && services.IsTransient(err):
		return Fallback
	default:
		return Abandon
	}
}

// OnClose never mutates on failure
func (p ReconciliationPolicy) OnClose(err error) Decision {
	switch {
	case err == nil:
		return Accept
	case errors.Is(err, services.ErrSessionExpired):
		return Expire
	default:
		return Abandon
	}
}

// Report describes what a hydrate did to the unconfirmed positions
type Report struct {
	// Confirmed maps local ids to the server position that matches them
	Confirmed map[string]string
	// Discarded holds unconfirmed positions the server does not know about
	Discarded []models.Position
}

// Supersede replaces prev with the server view. Unconfirmed positions never
// survive; each is reported as confirmed when a server position with the same
// symbol, side, amount and entry price exists, otherwise as discarded.
func (p ReconciliationPolicy) Supersede(prev []models.Position, server []models.Position) ([]models.Position, Report) {
	report := Report{Confirmed: make(map[string]string)}
	claimed := make(map[string]bool)

	for _, local := range prev {
		if !local.Unconfirmed {
			continue
		}
		if id, ok := matchServer(local, server, claimed); ok {
			claimed[id] = true
			report.Confirmed[local.ID] = id
			continue
		}
		report.Discarded = append(report.Discarded, local)
	}

	next := make([]models.Position, 0, len(server))
	for _, s := range server {
		s.Unconfirmed = false
		next = append(next, s)
	}
	return next, report
}

func matchServer(local models.Position, server []models.Position, claimed map[string]bool) (string, bool) {
	for _, s := range server {
		if claimed[s.ID] {
			continue
		}
		if s.Symbol == local.Symbol && s.Side == local.Side &&
			s.Amount.Equal(local.Amount) && s.EntryPrice.Equal(local.EntryPrice) {
			return s.ID, true
		}
	}
	return "", false
}
