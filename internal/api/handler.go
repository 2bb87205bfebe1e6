package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"prop-ledger/config"
	"prop-ledger/feed"
	"prop-ledger/internal/app"
	"prop-ledger/ledger"
	"prop-ledger/models"
	"prop-ledger/observability"
	"prop-ledger/risk"
	"prop-ledger/services"
)

var codec = sonic.ConfigStd

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9./\-]*$`)

// Handler handles HTTP API requests
type Handler struct {
	app *app.App
	cfg *config.Config
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config) *Handler {
	return &Handler{app: application, cfg: cfg}
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.Health())
}

// HandleGetLedger returns the published ledger snapshot
func (h *Handler) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.Ledger())
}

// HandleHydrate reloads the ledger from the trading API. A degraded result is
// still a 200; the snapshot carries the stale flag.
func (h *Handler) HandleHydrate(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Hydrate(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, snap)
}

// OpenPositionRequest is the body of POST /api/positions
type OpenPositionRequest struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Amount     decimal.Decimal  `json:"amount"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Confirmed  bool             `json:"confirmed"`
}

func (req OpenPositionRequest) intent() models.TradeIntent {
	return models.TradeIntent{
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:       models.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
		Amount:     req.Amount,
		EntryPrice: req.EntryPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
}

// HandleOpenPosition opens a position. 201 when the server confirmed it,
// 202 when it was kept locally pending reconciliation.
func (h *Handler) HandleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	intent := req.intent()
	if err := h.ValidateSymbol(intent.Symbol); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.app.OpenPosition(r.Context(), intent, req.Confirmed)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Provisional {
		status = http.StatusAccepted
	}
	h.jsonStatus(w, status, res)
}

// ClosePositionRequest is the body of POST /api/positions/{id}/close
type ClosePositionRequest struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
}

// HandleClosePosition closes an open position
func (h *Handler) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.jsonError(w, "position id is required", http.StatusBadRequest)
		return
	}

	var req ClosePositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.ExitPrice.IsPositive() {
		h.jsonError(w, "exit_price must be positive", http.StatusBadRequest)
		return
	}

	closed, err := h.app.ClosePosition(r.Context(), id, req.ExitPrice)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, closed)
}

// HandleValidate returns the risk verdict for an intent without opening it
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.jsonResponse(w, h.app.Validate(req.intent()))
}

// SizeRequest is the body of POST /api/risk/size
type SizeRequest struct {
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
}

// HandleSuggestAmount returns the smart position sizing for a stop-loss
func (h *Handler) HandleSuggestAmount(w http.ResponseWriter, r *http.Request) {
	var req SizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sizing, err := h.app.SuggestAmount(req.CurrentPrice, req.StopLoss)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, sizing)
}

// HandleGetPlans returns the plan catalog
func (h *Handler) HandleGetPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.app.Plans(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, plans)
}

// HandleGetQuotes returns the latest quote board
func (h *Handler) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.app.Quotes())
}

// HandleStartTerminal starts the price feed
func (h *Handler) HandleStartTerminal(w http.ResponseWriter, r *http.Request) {
	if err := h.app.StartTerminal(); err != nil {
		if errors.Is(err, feed.ErrTaskRunning) {
			h.jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		h.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, StatusResponse{Status: "running"})
}

// HandleStopTerminal stops the price feed
func (h *Handler) HandleStopTerminal(w http.ResponseWriter, r *http.Request) {
	h.app.StopTerminal()
	h.jsonResponse(w, StatusResponse{Status: "stopped"})
}

// SessionRequest is the body of POST /api/session
type SessionRequest struct {
	Token string `json:"token"`
}

// HandleLogin stores the session token and hydrates the ledger
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		h.jsonError(w, "token is required", http.StatusBadRequest)
		return
	}

	snap, err := h.app.Login(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, snap)
}

// HandleLogout clears the session
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Logout(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.jsonResponse(w, StatusResponse{Status: "logged_out"})
}

// Helper functions

// ValidateSymbol validates an instrument symbol
func (h *Handler) ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	if len(symbol) > 15 {
		return fmt.Errorf("symbol too long (max 15 characters)")
	}

	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format (alphanumeric, dots, dashes and slashes only)")
	}

	return nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := codec.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps engine and client errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		riskErr   *ledger.RiskError
		rejection *services.RejectionError
	)
	switch {
	case errors.Is(err, services.ErrSessionExpired):
		h.jsonError(w, "session expired", http.StatusUnauthorized)
	case errors.As(err, &riskErr):
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ledger.ErrConfirmationRequired) {
			status = http.StatusConflict
		}
		h.jsonStatus(w, status, VerdictResponse{Error: err.Error(), Verdict: riskErr.Verdict})
	case errors.Is(err, ledger.ErrNotHydrated), errors.Is(err, ledger.ErrAccountChanged):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrPositionNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, risk.ErrZeroStopDistance):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &rejection):
		status := http.StatusUnprocessableEntity
		if rejection.StatusCode >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		h.jsonError(w, rejection.Message, status)
	case services.IsTransient(err):
		h.jsonError(w, "trading API unavailable: "+err.Error(), http.StatusServiceUnavailable)
	default:
		observability.Error("request failed", "error", err)
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	codec.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonStatus(w, status, map[string]string{"error": message})
}

// StatusResponse represents a status response
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// VerdictResponse is returned when the risk rules stopped an open
type VerdictResponse struct {
	Error   string             `json:"error"`
	Verdict models.RiskVerdict `json:"verdict"`
}
