// Package mocks provides an HTTP mock of the challenge trading API for tests.
package mocks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer is an in-memory challenge backend with error injection.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	account Account
	active  []Trade
	history []Trade
	plans   []Plan
	quotes  map[string]Quote
	nextID  int64
	opens   map[string]Trade // by Idempotency-Key

	// Auth
	token   string
	expired bool

	// Error injection
	down       bool
	failures   map[string]int
	rejectOpen string
	closePnL   *float64
	omitPnL    bool
	latency    time.Duration

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Method  string
	Path    string
	Body    string
	Headers http.Header
}

// NewMockServer creates a mock server with a funded ACTIVE account.
func NewMockServer() *MockServer {
	m := &MockServer{
		quotes:     make(map[string]Quote),
		opens:      make(map[string]Trade),
		failures:   make(map[string]int),
		requestLog: make([]RequestLog, 0),
	}
	m.setDefaults()
	m.server = httptest.NewServer(m)
	return m
}

func (m *MockServer) setDefaults() {
	m.account = Account{
		ID:                  "acc-1",
		PlanID:              "starter",
		PlanName:            "Starter",
		InitialBalance:      10000,
		CurrentBalance:      10000,
		Equity:              10000,
		DailyStartingEquity: 10000,
		Status:              "ACTIVE",
	}
	m.plans = []Plan{
		{ID: "starter", Name: "Starter", Capital: 10000, ProfitTarget: 10, DailyLossLimit: 5, MaxDrawdown: 10, Price: 99, Currency: "USD"},
		{ID: "pro", Name: "Pro", Capital: 50000, ProfitTarget: 8, DailyLossLimit: 4, MaxDrawdown: 8, Price: 299, Currency: "USD"},
	}
	m.nextID = 100
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// ServeHTTP routes requests to the trading API handlers.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Method:  r.Method,
		Path:    r.URL.Path,
		Body:    string(body),
		Headers: r.Header.Clone(),
	})
	down := m.down
	latency := m.latency
	status, failing := m.failures[r.URL.Path]
	authorized := m.authorized(r)
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if down {
		dropConnection(w)
		return
	}
	if !authorized {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}
	if failing {
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return
	}

	switch r.URL.Path {
	case "/trading/account":
		m.handleAccount(w)
	case "/trading/active":
		m.handleTrades(w, false)
	case "/trading/history":
		m.handleTrades(w, true)
	case "/trading/open":
		m.handleOpen(w, r, body)
	case "/trading/close":
		m.handleClose(w, body)
	case "/plans":
		m.handlePlans(w)
	case "/market/quote":
		m.handleQuote(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// authorized expects the lock to be held
func (m *MockServer) authorized(r *http.Request) bool {
	if r.URL.Path == "/market/quote" || r.URL.Path == "/plans" {
		return true
	}
	if m.expired {
		return false
	}
	if m.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+m.token
}

func (m *MockServer) handleAccount(w http.ResponseWriter) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, http.StatusOK, m.account)
}

func (m *MockServer) handleTrades(w http.ResponseWriter, closed bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if closed {
		writeJSON(w, http.StatusOK, append([]Trade{}, m.history...))
		return
	}
	writeJSON(w, http.StatusOK, append([]Trade{}, m.active...))
}

func (m *MockServer) handleOpen(w http.ResponseWriter, r *http.Request, body []byte) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req OpenRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rejectOpen != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": m.rejectOpen})
		return
	}
	if m.account.Status != "ACTIVE" {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "challenge is not active"})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if t, ok := m.opens[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, map[string]any{"trade": t})
		return
	}

	m.nextID++
	t := Trade{
		ID:         m.nextID,
		Symbol:     strings.ToUpper(req.Symbol),
		Type:       strings.ToUpper(req.Type),
		Amount:     float64(req.Amount),
		EntryPrice: float64(req.EntryPrice),
		SL:         req.SL.ptr(),
		TP:         req.TP.ptr(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	m.active = append(m.active, t)
	if key != "" {
		m.opens[key] = t
	}
	writeJSON(w, http.StatusOK, map[string]any{"trade": t, "account": m.account})
}

func (m *MockServer) handleClose(w http.ResponseWriter, body []byte) {
	var req CloseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}
	id, err := strconv.ParseInt(req.TradeID, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "trade not found"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, t := range m.active {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "trade not found"})
		return
	}

	t := m.active[idx]
	exit := float64(req.ExitPrice)
	pnl := (exit - t.EntryPrice) * t.Amount / t.EntryPrice
	if t.Type == "SELL" {
		pnl = -pnl
	}
	if m.closePnL != nil {
		pnl = *m.closePnL
	}
	t.ExitPrice = &exit
	t.ClosedAt = time.Now().UTC().Format(time.RFC3339)
	if !m.omitPnL {
		t.PnL = &pnl
	}

	m.active = append(m.active[:idx], m.active[idx+1:]...)
	m.history = append(m.history, t)
	m.account.CurrentBalance += pnl
	m.account.Equity = m.account.CurrentBalance

	writeJSON(w, http.StatusOK, map[string]any{"trade": t, "account": m.account})
}

func (m *MockServer) handlePlans(w http.ResponseWriter) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, http.StatusOK, append([]Plan{}, m.plans...))
}

func (m *MockServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	m.mu.RLock()
	q, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "unknown symbol"})
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// CountRequests returns how many requests hit method and path.
func (m *MockServer) CountRequests(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requestLog {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// SetAccount replaces the challenge account.
func (m *MockServer) SetAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = a
}

// Account returns the current challenge account.
func (m *MockServer) Account() Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// SetActiveTrades replaces the open trades.
func (m *MockServer) SetActiveTrades(trades []Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append([]Trade{}, trades...)
}

// ActiveTrades returns the open trades.
func (m *MockServer) ActiveTrades() []Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Trade{}, m.active...)
}

// SetPlans replaces the plan catalog.
func (m *MockServer) SetPlans(plans []Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append([]Plan{}, plans...)
}

// SetQuote sets the quote served for a symbol.
func (m *MockServer) SetQuote(symbol string, price, changePct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	m.quotes[symbol] = Quote{
		Symbol:    symbol,
		Price:     price,
		ChangePct: changePct,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// RequireToken makes every trading endpoint demand "Bearer token".
func (m *MockServer) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expired = false
}

// ExpireSession answers 401 on every trading endpoint.
func (m *MockServer) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = true
}

// SetDown drops every connection without answering while down is true.
func (m *MockServer) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// SetFailure answers status on path until cleared with status 0.
func (m *MockServer) SetFailure(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.failures, path)
		return
	}
	m.failures[path] = status
}

// SetRejectOpen makes the server's risk engine refuse opens with message.
func (m *MockServer) SetRejectOpen(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectOpen = message
}

// SetClosePnL overrides the pnl booked on close. nil restores the formula.
func (m *MockServer) SetClosePnL(pnl *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closePnL = pnl
}

// OmitClosePnL makes close answer with the balance only.
func (m *MockServer) OmitClosePnL(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitPnL = omit
}

// SetLatency delays every response.
func (m *MockServer) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Reset restores defaults and clears injected errors.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	m.history = nil
	m.quotes = make(map[string]Quote)
	m.opens = make(map[string]Trade)
	m.failures = make(map[string]int)
	m.token = ""
	m.expired = false
	m.down = false
	m.rejectOpen = ""
	m.closePnL = nil
	m.omitPnL = false
	m.latency = 0
	m.requestLog = make([]RequestLog, 0)
	m.setDefaults()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// Float is a helper for optional payload fields.
func Float(v float64) *float64 {
	return &v
}
