package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"prop-ledger/config"
	"prop-ledger/e2e/mocks"
	"prop-ledger/internal/app"
	"prop-ledger/models"
	"prop-ledger/observability"
)

// testConfig returns a test configuration pointed at the mock trading API
func testConfig(mock *mocks.MockServer) *config.Config {
	cfg := config.NewTestConfig()
	cfg.API.BaseURL = mock.URL()
	cfg.API.TimeoutSeconds = 2
	cfg.API.MaxRetries = 0
	return cfg
}

// testRouter builds the full stack against mock and returns its router
func testRouter(t *testing.T, mock *mocks.MockServer) http.Handler {
	t.Helper()
	cfg := testConfig(mock)
	a, err := app.Build(context.Background(), cfg, observability.NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return NewRouter(NewHandler(a, cfg), cfg)
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, router http.Handler) models.LedgerSnapshot {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/session", `{"token":"tok"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap models.LedgerSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	return snap
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	msg, _ := body["error"].(string)
	return msg
}

func TestHandler_Health(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)

	w := do(t, router, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var h app.Health
	if err := json.NewDecoder(w.Body).Decode(&h); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if h.Status != "ok" || h.Hydrated {
		t.Errorf("expected ok and not hydrated, got %+v", h)
	}
	if h.Cache != "memory" {
		t.Errorf("expected memory cache, got %q", h.Cache)
	}
}

func TestHandler_Session(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)

	t.Run("missing token", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/session", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/session", `{not json`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("login hydrates", func(t *testing.T) {
		snap := login(t, router)
		if snap.Account == nil || snap.Account.ID != "acc-1" {
			t.Fatalf("expected account acc-1, got %+v", snap.Account)
		}

		w := do(t, router, http.MethodGet, "/api/ledger", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("logout clears ledger", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/api/session", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}

		w = do(t, router, http.MethodGet, "/api/ledger", "")
		var snap models.LedgerSnapshot
		json.NewDecoder(w.Body).Decode(&snap)
		if snap.Initialized() {
			t.Error("expected empty ledger after logout")
		}
	})
}

func TestHandler_OpenPosition(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*mocks.MockServer)
		body       string
		wantStatus int
		check      func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:       "approved",
			body:       `{"symbol":"eurusd","side":"buy","amount":"1000","entry_price":"100","stop_loss":"98"}`,
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				var res struct {
					Position    models.Position    `json:"position"`
					Verdict     models.RiskVerdict `json:"verdict"`
					Provisional bool               `json:"provisional"`
				}
				json.NewDecoder(w.Body).Decode(&res)
				if res.Position.ID != "101" || res.Position.Symbol != "EURUSD" {
					t.Errorf("expected server position 101 EURUSD, got %+v", res.Position)
				}
				if res.Verdict.Status != models.VerdictApproved || res.Provisional {
					t.Errorf("expected approved confirmed result, got %+v", res)
				}
			},
		},
		{
			name:       "blocked by loss floor",
			body:       `{"symbol":"EURUSD","side":"BUY","amount":"10000","entry_price":"100","stop_loss":"90"}`,
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				var res VerdictResponse
				json.NewDecoder(w.Body).Decode(&res)
				if res.Verdict.Status != models.VerdictBlocked {
					t.Errorf("expected BLOCKED verdict, got %+v", res.Verdict)
				}
			},
		},
		{
			name:       "missing stop-loss needs confirmation",
			body:       `{"symbol":"EURUSD","side":"BUY","amount":"400","entry_price":"100"}`,
			wantStatus: http.StatusConflict,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				var res VerdictResponse
				json.NewDecoder(w.Body).Decode(&res)
				if res.Verdict.Status != models.VerdictWarning || !strings.Contains(res.Verdict.Message, "stop-loss") {
					t.Errorf("expected stop-loss WARNING, got %+v", res.Verdict)
				}
			},
		},
		{
			name:       "confirmed warning proceeds",
			body:       `{"symbol":"EURUSD","side":"BUY","amount":"400","entry_price":"100","confirmed":true}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "provisional on outage",
			setup:      func(m *mocks.MockServer) { m.SetDown(true) },
			body:       `{"symbol":"EURUSD","side":"SELL","amount":"1000","entry_price":"100","stop_loss":"102"}`,
			wantStatus: http.StatusAccepted,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				var res struct {
					Position    models.Position `json:"position"`
					Provisional bool            `json:"provisional"`
				}
				json.NewDecoder(w.Body).Decode(&res)
				if !res.Provisional || !res.Position.Unconfirmed || !strings.HasPrefix(res.Position.ID, "local-") {
					t.Errorf("expected unconfirmed local position, got %+v", res)
				}
			},
		},
		{
			name:       "server rejection surfaced",
			setup:      func(m *mocks.MockServer) { m.SetRejectOpen("market closed") },
			body:       `{"symbol":"EURUSD","side":"BUY","amount":"1000","entry_price":"100","stop_loss":"98"}`,
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				if msg := decodeError(t, w); msg != "market closed" {
					t.Errorf("expected server message, got %q", msg)
				}
			},
		},
		{
			name:       "invalid symbol",
			body:       `{"symbol":"EUR USD","side":"BUY","amount":"1000","entry_price":"100","stop_loss":"98"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := mocks.NewMockServer()
			defer mock.Close()
			router := testRouter(t, mock)
			login(t, router)
			if tt.setup != nil {
				tt.setup(mock)
			}

			w := do(t, router, http.MethodPost, "/api/positions", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}

func TestHandler_OpenPosition_NotHydrated(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)

	w := do(t, router, http.MethodPost, "/api/positions", `{"symbol":"EURUSD","side":"BUY","amount":"1000","entry_price":"100","stop_loss":"98"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestHandler_ClosePosition(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	mock.SetActiveTrades([]mocks.Trade{{
		ID: 7, Symbol: "EURUSD", Type: "BUY", Amount: 1000, EntryPrice: 100,
		SL: mocks.Float(98), Timestamp: "2026-10-15T09:30:00Z",
	}})
	router := testRouter(t, mock)
	login(t, router)

	t.Run("unknown id", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/positions/999/close", `{"exit_price":"101"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})

	t.Run("non-positive exit price", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/positions/7/close", `{"exit_price":"0"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("server failure leaves position open", func(t *testing.T) {
		mock.SetFailure("/trading/close", http.StatusInternalServerError)
		defer mock.SetFailure("/trading/close", 0)

		w := do(t, router, http.MethodPost, "/api/positions/7/close", `{"exit_price":"106"}`)
		if w.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", w.Code)
		}

		w = do(t, router, http.MethodGet, "/api/ledger", "")
		var snap models.LedgerSnapshot
		json.NewDecoder(w.Body).Decode(&snap)
		if len(snap.OpenPositions) != 1 {
			t.Errorf("expected position still open, got %d", len(snap.OpenPositions))
		}
	})

	t.Run("closes with server pnl", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/positions/7/close", `{"exit_price":"106"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var closed models.Position
		json.NewDecoder(w.Body).Decode(&closed)
		if closed.RealizedPnl == nil || !closed.RealizedPnl.Equal(decimal.NewFromInt(60)) {
			t.Errorf("expected realized pnl 60, got %v", closed.RealizedPnl)
		}
	})
}

func TestHandler_SessionExpired(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)
	login(t, router)

	mock.ExpireSession()
	w := do(t, router, http.MethodPost, "/api/ledger/hydrate", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != "session expired" {
		t.Errorf("expected 'session expired', got %q", msg)
	}
}

func TestHandler_HydrateDegraded(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)
	login(t, router)

	mock.SetFailure("/trading/account", http.StatusServiceUnavailable)
	w := do(t, router, http.MethodPost, "/api/ledger/hydrate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap models.LedgerSnapshot
	json.NewDecoder(w.Body).Decode(&snap)
	if !snap.Stale || snap.Account == nil {
		t.Errorf("expected stale snapshot with account, got %+v", snap)
	}
}

func TestHandler_Risk(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)
	login(t, router)

	t.Run("validate", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/risk/validate", `{"symbol":"EURUSD","side":"BUY","amount":"1000","entry_price":"100","stop_loss":"98"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var v models.RiskVerdict
		json.NewDecoder(w.Body).Decode(&v)
		if v.Status != models.VerdictApproved {
			t.Errorf("expected APPROVED, got %+v", v)
		}
	})

	t.Run("size", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/risk/size", `{"current_price":"100","stop_loss":"98"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var s struct {
			SuggestedAmount decimal.Decimal `json:"suggested_amount"`
		}
		json.NewDecoder(w.Body).Decode(&s)
		// 1% of 10000 over a distance of 2 at price 100
		if !s.SuggestedAmount.Equal(decimal.NewFromInt(5000)) {
			t.Errorf("expected 5000, got %s", s.SuggestedAmount)
		}
	})

	t.Run("zero distance", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/risk/size", `{"current_price":"100","stop_loss":"100"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})
}

func TestHandler_PlansAndQuotes(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)

	w := do(t, router, http.MethodGet, "/api/plans", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var plans []models.Plan
	json.NewDecoder(w.Body).Decode(&plans)
	if len(plans) != 2 {
		t.Errorf("expected 2 plans, got %d", len(plans))
	}

	w = do(t, router, http.MethodGet, "/api/quotes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestHandler_Terminal(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)
	login(t, router)

	w := do(t, router, http.MethodPost, "/api/terminal", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	w = do(t, router, http.MethodPost, "/api/terminal", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409 on second start, got %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/api/terminal", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)

	w := do(t, router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestHandler_LedgerEvents(t *testing.T) {
	mock := mocks.NewMockServer()
	defer mock.Close()
	router := testRouter(t, mock)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/ledger/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	events := make(chan models.LedgerSnapshot, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var snap models.LedgerSnapshot
				if json.Unmarshal([]byte(data), &snap) == nil {
					events <- snap
				}
			}
		}
		close(events)
	}()

	next := func() models.LedgerSnapshot {
		select {
		case snap, ok := <-events:
			if !ok {
				t.Fatal("stream closed")
			}
			return snap
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return models.LedgerSnapshot{}
	}

	if first := next(); first.Initialized() {
		t.Error("expected empty initial snapshot")
	}

	login(t, router)
	if snap := next(); snap.Account == nil || snap.Account.ID != "acc-1" {
		t.Errorf("expected hydrated snapshot event, got %+v", snap.Account)
	}
}
