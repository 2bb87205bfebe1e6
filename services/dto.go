package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"prop-ledger/models"
)

// Wire formats of the challenge backend. The backend is loosely typed: ids
// arrive as numbers or strings and timestamps in several layouts, so those
// fields use tolerant types and every struct is mapped to a domain type by a
// pure function below.

// flexID accepts a JSON number or string
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// flexTime accepts RFC 3339, SQL-style datetimes or unix seconds
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		f.Time = time.Time{}
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		secs, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		f.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

func (f flexTime) MarshalJSON() ([]byte, error) {
	if f.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Time.UTC().Format(time.RFC3339Nano))
}

// TradeDTO is a trade as returned by /trading/open, /trading/active and
// /trading/history
type TradeDTO struct {
	ID         flexID           `json:"id"`
	Symbol     string           `json:"symbol"`
	Type       string           `json:"type"`
	Amount     decimal.Decimal  `json:"amount"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	SL         *decimal.Decimal `json:"sl,omitempty"`
	TP         *decimal.Decimal `json:"tp,omitempty"`
	Timestamp  flexTime         `json:"timestamp"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	ClosedAt   *flexTime        `json:"closed_at,omitempty"`
}

// AccountDTO is the body of GET /trading/account and the partial account
// returned by open and close
type AccountDTO struct {
	ID                  flexID           `json:"id"`
	PlanID              flexID           `json:"plan_id,omitempty"`
	PlanName            string           `json:"plan_name,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	InitialBalance      *decimal.Decimal `json:"initial_balance,omitempty"`
	CurrentBalance      *decimal.Decimal `json:"current_balance,omitempty"`
	Equity              *decimal.Decimal `json:"equity,omitempty"`
	DailyStartingEquity *decimal.Decimal `json:"daily_starting_equity,omitempty"`
	Status              string           `json:"status,omitempty"`
}

// OpenRequest is the body of POST /trading/open
type OpenRequest struct {
	Symbol     string           `json:"symbol"`
	Type       string           `json:"type"`
	Amount     decimal.Decimal  `json:"amount"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	SL         *decimal.Decimal `json:"sl,omitempty"`
	TP         *decimal.Decimal `json:"tp,omitempty"`
	ClientID   string           `json:"client_id,omitempty"`
}

// OpenResponse is the body returned by POST /trading/open
type OpenResponse struct {
	Trade   TradeDTO    `json:"trade"`
	Account *AccountDTO `json:"account,omitempty"`
}

// CloseRequest is the body of POST /trading/close
type CloseRequest struct {
	TradeID   string          `json:"trade_id"`
	ExitPrice decimal.Decimal `json:"exit_price"`
}

// CloseResponse is the body returned by POST /trading/close
type CloseResponse struct {
	Trade   *TradeDTO   `json:"trade,omitempty"`
	Account *AccountDTO `json:"account"`
}

// PlanDTO is an entry of GET /plans
type PlanDTO struct {
	ID             flexID          `json:"id"`
	Name           string          `json:"name"`
	Capital        decimal.Decimal `json:"capital"`
	ProfitTarget   decimal.Decimal `json:"profitTarget"`
	DailyLossLimit decimal.Decimal `json:"dailyLossLimit"`
	MaxDrawdown    decimal.Decimal `json:"maxDrawdown"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
}

// QuoteDTO is the body of GET /market/quote
type QuoteDTO struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Timestamp flexTime        `json:"timestamp"`
}

// apiError is the error envelope of the backend
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// SideToWire maps a domain side to the backend "type" field
func SideToWire(s models.Side) string {
	return string(s)
}

// SideFromWire maps the backend "type" field to a domain side. Unknown values
// map to an invalid side.
func SideFromWire(t string) models.Side {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "BUY", "LONG":
		return models.SideBuy
	case "SELL", "SHORT":
		return models.SideSell
	default:
		return models.Side("")
	}
}

// ToPosition maps a trade to a domain position. A trade whose type is not a
// known side is rejected since its PnL sign cannot be derived.
func (t TradeDTO) ToPosition() (models.Position, error) {
	side := SideFromWire(t.Type)
	if !side.Valid() {
		return models.Position{}, fmt.Errorf("trade %s: unknown type %q", string(t.ID), t.Type)
	}
	p := models.Position{
		ID:         string(t.ID),
		Symbol:     strings.ToUpper(t.Symbol),
		Side:       side,
		EntryPrice: t.EntryPrice,
		Amount:     t.Amount,
		StopLoss:   nonZero(t.SL),
		TakeProfit: nonZero(t.TP),
		OpenedAt:   t.Timestamp.Time,
	}
	if t.ClosedAt != nil && !t.ClosedAt.IsZero() {
		at := t.ClosedAt.Time
		p.ClosedAt = &at
		p.ExitPrice = t.ExitPrice
		p.RealizedPnl = t.PnL
	}
	return p, nil
}

// ToClosedPosition maps a history entry. History rows always count as closed
// even when the backend omits closed_at.
func (t TradeDTO) ToClosedPosition() (models.Position, error) {
	p, err := t.ToPosition()
	if err != nil {
		return p, err
	}
	if p.ClosedAt == nil {
		at := t.Timestamp.Time
		p.ClosedAt = &at
		p.ExitPrice = t.ExitPrice
		p.RealizedPnl = t.PnL
	}
	return p, nil
}

// ToAccount maps a full account body
func (a AccountDTO) ToAccount() *models.ChallengeAccount {
	acct := &models.ChallengeAccount{
		ID:       string(a.ID),
		PlanID:   string(a.PlanID),
		PlanName: a.PlanName,
		Currency: a.Currency,
		Status:   models.ParseAccountStatus(a.Status),
	}
	acct.InitialBalance = valueOr(a.InitialBalance, decimal.Zero)
	acct.CurrentBalance = valueOr(a.CurrentBalance, acct.InitialBalance)
	acct.Equity = valueOr(a.Equity, acct.CurrentBalance)
	acct.DailyStartingEquity = valueOr(a.DailyStartingEquity, acct.Equity)
	return acct
}

// ToUpdate maps the partial account attached to open and close answers
func (a *AccountDTO) ToUpdate() *models.AccountUpdate {
	if a == nil {
		return nil
	}
	u := &models.AccountUpdate{
		CurrentBalance:      a.CurrentBalance,
		Equity:              a.Equity,
		DailyStartingEquity: a.DailyStartingEquity,
	}
	if a.Status != "" {
		u.Status = models.ParseAccountStatus(a.Status)
	}
	return u
}

// ToPlan maps a plan catalog entry
func (p PlanDTO) ToPlan() models.Plan {
	return models.Plan{
		ID:             string(p.ID),
		Name:           p.Name,
		Capital:        p.Capital,
		ProfitTarget:   p.ProfitTarget,
		DailyLossLimit: p.DailyLossLimit,
		MaxDrawdown:    p.MaxDrawdown,
		Price:          p.Price,
		Currency:       p.Currency,
	}
}

// ToQuote maps a backend quote
func (q QuoteDTO) ToQuote(symbol string) models.PriceQuote {
	if q.Symbol != "" {
		symbol = strings.ToUpper(q.Symbol)
	}
	asOf := q.Timestamp.Time
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return models.PriceQuote{
		Symbol:    symbol,
		Price:     q.Price,
		ChangePct: q.ChangePct,
		AsOf:      asOf,
	}
}

// NewOpenRequest maps an intent to the open body
func NewOpenRequest(intent models.TradeIntent, clientID string) OpenRequest {
	return OpenRequest{
		Symbol:     strings.ToUpper(intent.Symbol),
		Type:       SideToWire(intent.Side),
		Amount:     intent.Amount,
		EntryPrice: intent.EntryPrice,
		SL:         intent.StopLoss,
		TP:         intent.TakeProfit,
		ClientID:   clientID,
	}
}

// nonZero treats a zero sl/tp as unset; the backend stores 0 for "none"
func nonZero(d *decimal.Decimal) *decimal.Decimal {
	if d == nil || d.IsZero() {
		return nil
	}
	v := *d
	return &v
}

func valueOr(d *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if d == nil {
		return def
	}
	return *d
}
