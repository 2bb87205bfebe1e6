package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLogger_Development(t *testing.T) {
	InitLogger(false)

	if Logger == nil {
		t.Error("Logger should not be nil after initialization")
	}
}

func TestInitLogger_Production(t *testing.T) {
	InitLogger(true)

	if Logger == nil {
		t.Error("Logger should not be nil after initialization")
	}
}

func TestInitLoggerWithLevel(t *testing.T) {
	InitLoggerWithLevel(false, slog.LevelDebug)

	if Logger == nil {
		t.Error("Logger should not be nil after initialization")
	}
}

func TestWithContext(t *testing.T) {
	Logger = nil // Reset
	logger := WithContext(context.Background())

	if logger == nil {
		t.Error("WithContext should not return nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	Logger = slog.New(handler)
	t.Cleanup(func() { Logger = nil })
	return &buf
}

func TestLoggingFunctions(t *testing.T) {
	buf := captureLogs(t)

	t.Run("Info", func(t *testing.T) {
		buf.Reset()
		Info("hydrate complete", "stale", false)
		if !strings.Contains(buf.String(), "hydrate complete") {
			t.Error("Info should log the message")
		}
		if !strings.Contains(buf.String(), "stale=false") {
			t.Error("Info should log the key-value pair")
		}
	})

	t.Run("Warn", func(t *testing.T) {
		buf.Reset()
		Warn("serving cached snapshot")
		if !strings.Contains(buf.String(), "WARN") {
			t.Error("Warn should log at WARN level")
		}
	})

	t.Run("Error", func(t *testing.T) {
		buf.Reset()
		Error("close rejected")
		if !strings.Contains(buf.String(), "ERROR") {
			t.Error("Error should log at ERROR level")
		}
	})

	t.Run("Debug", func(t *testing.T) {
		buf.Reset()
		Debug("tick")
		if !strings.Contains(buf.String(), "DEBUG") {
			t.Error("Debug should log at DEBUG level")
		}
	})
}

func TestScopedLoggers(t *testing.T) {
	buf := captureLogs(t)

	WithAccount("acct-7").Info("hydrated")
	if !strings.Contains(buf.String(), "account_id=acct-7") {
		t.Errorf("expected account_id field, got %q", buf.String())
	}

	buf.Reset()
	WithPosition("p-1").Info("closed")
	if !strings.Contains(buf.String(), "position_id=p-1") {
		t.Errorf("expected position_id field, got %q", buf.String())
	}

	buf.Reset()
	WithSymbol("EURUSD").Info("quote")
	if !strings.Contains(buf.String(), "symbol=EURUSD") {
		t.Errorf("expected symbol field, got %q", buf.String())
	}

	buf.Reset()
	WithError(errors.New("boom")).Info("failed")
	if !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("expected error field, got %q", buf.String())
	}
}

func TestRestyLogger(t *testing.T) {
	buf := captureLogs(t)
	l := NewRestyLogger("trading-api")

	l.Errorf("request failed: %d", 502)
	if !strings.Contains(buf.String(), "request failed: 502") || !strings.Contains(buf.String(), "component=trading-api") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	l.Warnf("retrying")
	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("Warnf should log at WARN, got %q", buf.String())
	}

	buf.Reset()
	l.Debugf("body %s", "{}")
	if !strings.Contains(buf.String(), "DEBUG") {
		t.Errorf("Debugf should log at DEBUG, got %q", buf.String())
	}
}
