package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the latest price for a symbol. ChangePct is the percentage move
// since the previous close; it is forced to zero when the quote is a carried-over
// last known value.
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	AsOf      time.Time       `json:"as_of"`
	Stale     bool            `json:"stale,omitempty"`
}

// Carried returns the quote as it must be re-emitted after a failed refresh
func (q PriceQuote) Carried() PriceQuote {
	q.ChangePct = decimal.Zero
	q.Stale = true
	return q
}

// Quotes maps symbols to their latest quote
type Quotes map[string]PriceQuote
