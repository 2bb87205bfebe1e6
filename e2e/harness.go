// Package e2e provides end-to-end testing infrastructure for prop-ledger.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"prop-ledger/config"
	"prop-ledger/e2e/mocks"
	"prop-ledger/internal/api"
	"prop-ledger/internal/app"
	"prop-ledger/models"
	"prop-ledger/observability"
)

// TestHarness provides the infrastructure for running E2E tests.
type TestHarness struct {
	t          *testing.T
	ctx        context.Context
	cancel     context.CancelFunc
	mockServer *mocks.MockServer
	app        *app.App
	router     http.Handler
	config     *config.Config
	metrics    *observability.Metrics
}

// NewTestHarness creates a new test harness with all dependencies initialized.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	h := &TestHarness{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
	}

	return h
}

// Setup starts the mock trading API and builds the application against it.
// The cache is a SQLite file in a temp dir unless E2E_DATABASE_URL selects
// the Postgres cache.
func (h *TestHarness) Setup() error {
	h.mockServer = mocks.NewMockServer()
	h.config = h.createTestConfig()
	return h.start()
}

// Restart shuts the application down and builds it again over the same
// cache, as a process restart would.
func (h *TestHarness) Restart() error {
	if h.app != nil {
		h.app.Shutdown(context.Background())
	}
	return h.start()
}

func (h *TestHarness) start() error {
	h.metrics = observability.NewMetrics(prometheus.NewRegistry())
	application, err := app.Build(h.ctx, h.config, h.metrics)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	h.app = application
	h.app.Startup(h.ctx)

	handler := api.NewHandler(h.app, h.config)
	h.router = api.NewRouter(handler, h.config)
	return nil
}

// Teardown cleans up all test resources.
func (h *TestHarness) Teardown() {
	if h.app != nil {
		if err := h.app.Engine().Logout(context.Background()); err != nil {
			h.t.Logf("failed to clear cache: %v", err)
		}
		h.app.Shutdown(context.Background())
	}

	if h.cancel != nil {
		h.cancel()
	}

	if h.mockServer != nil {
		h.mockServer.Close()
	}
}

// Context returns the test context.
func (h *TestHarness) Context() context.Context {
	return h.ctx
}

// MockServer returns the mock trading API for configuring responses.
func (h *TestHarness) MockServer() *mocks.MockServer {
	return h.mockServer
}

// App returns the application instance.
func (h *TestHarness) App() *app.App {
	return h.app
}

// Router returns the HTTP router for making requests.
func (h *TestHarness) Router() http.Handler {
	return h.router
}

// Config returns the test configuration.
func (h *TestHarness) Config() *config.Config {
	return h.config
}

// Metrics returns the metrics of the running application.
func (h *TestHarness) Metrics() *observability.Metrics {
	return h.metrics
}

// DoRequest performs an HTTP request and returns the response.
func (h *TestHarness) DoRequest(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// Ledger fetches the published snapshot through the API.
func (h *TestHarness) Ledger() models.LedgerSnapshot {
	h.t.Helper()
	resp := h.DoRequest(http.MethodGet, "/api/ledger", "")
	if resp.Code != http.StatusOK {
		h.t.Fatalf("GET /api/ledger: status %d", resp.Code)
	}
	var snap models.LedgerSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		h.t.Fatalf("failed to decode ledger: %v", err)
	}
	return snap
}

// Login posts a session token through the API.
func (h *TestHarness) Login(token string) models.LedgerSnapshot {
	h.t.Helper()
	resp := h.DoRequest(http.MethodPost, "/api/session", fmt.Sprintf(`{"token":%q}`, token))
	if resp.Code != http.StatusOK {
		h.t.Fatalf("POST /api/session: status %d: %s", resp.Code, resp.Body.String())
	}
	var snap models.LedgerSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		h.t.Fatalf("failed to decode ledger: %v", err)
	}
	return snap
}

func (h *TestHarness) createTestConfig() *config.Config {
	cfg := config.NewTestConfig()

	// Point the trading API and the quote source at the mock server
	cfg.API.BaseURL = h.mockServer.URL()
	cfg.API.TimeoutSeconds = 2
	cfg.API.MaxRetries = 1

	if dbURL := os.Getenv("E2E_DATABASE_URL"); dbURL != "" {
		cfg.Cache.Backend = "postgres"
		cfg.Cache.DatabaseURL = dbURL
	} else {
		cfg.Cache.Backend = "sqlite"
		cfg.Cache.SQLitePath = filepath.Join(h.t.TempDir(), "ledger-cache.db")
	}

	return cfg
}
