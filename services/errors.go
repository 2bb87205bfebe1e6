package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sony/gobreaker/v2"
)

// ErrSessionExpired is returned for any 401 from the trading API. It is never
// retried and callers are expected to log the user out.
var ErrSessionExpired = errors.New("session expired")

// TransientError is a timeout or connection failure. The request may be
// retried without corrupting state.
type TransientError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransientError) Error() string {
	kind := "network error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RejectionError is a non-401 4xx/5xx answer. Message is the server's own
// wording and is surfaced verbatim.
type RejectionError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: rejected (%d): %s", e.Op, e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable network-level failure
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejection reports whether err is a server rejection
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// classifyTransportError turns an error returned before any HTTP status was
// received into a TransientError, keeping timeouts distinct.
func classifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionExpired) || IsTransient(err) || IsRejection(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &TransientError{Op: op, Timeout: timeout, Err: err}
}

// classifyBreakerError maps gobreaker rejections to transient failures
func classifyBreakerError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransientError{Op: op, Err: err}
	}
	return err
}

// errorType is the metrics label for a classified error
func errorType(err error) string {
	var te *TransientError
	switch {
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.As(err, &te) && te.Timeout:
		return "timeout"
	case errors.As(err, &te):
		return "network"
	case IsRejection(err):
		return "rejected"
	default:
		return "other"
	}
}

func rejectionMessage(status string, body string, candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	if s := strings.TrimSpace(body); s != "" && len(s) < 512 {
		return s
	}
	return status
}
