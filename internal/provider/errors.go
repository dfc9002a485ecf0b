package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"webbroker/pkg/models"
)

// Error is a backend failure annotated with the flags that drive retry and
// fallback decisions. QuotaLimited is tracked separately from Recoverable so
// billing exhaustion stays visible to operators even when a retry would work.
type Error struct {
	Backend      models.Backend
	StatusCode   int
	Message      string
	Recoverable  bool
	QuotaLimited bool
	cause        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Backend, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NoSessionError signals a caller-side usage error: the session id is
// unknown or already closed.
type NoSessionError struct {
	SessionID string
}

func (e *NoSessionError) Error() string {
	return fmt.Sprintf("no active session for %q", e.SessionID)
}

var quotaPhrases = []string{
	"quota", "insufficient credits", "payment required", "billing",
	"plan limit", "upgrade your plan",
}

var rateLimitPhrases = []string{
	"rate limit", "too many requests", "429",
}

// ClassifyTransport wraps a transport-level error (dial, timeout, reset)
// from a remote call. Timeouts and network failures are recoverable.
func ClassifyTransport(backend models.Backend, err error) *Error {
	recoverable := false

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		recoverable = true
	case errors.As(err, &netErr) && netErr.Timeout():
		recoverable = true
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		recoverable = true
	case containsAnyFold(err.Error(), rateLimitPhrases):
		recoverable = true
	}

	return &Error{
		Backend:     backend,
		Message:     err.Error(),
		Recoverable: recoverable,
		cause:       err,
	}
}

// ClassifyStatus builds an Error from an HTTP response status and body.
// 5xx, 429, and rate-limit phrasing are recoverable. QuotaLimited flags
// billing exhaustion only (402 or quota phrasing), never plain throttling;
// the two are independent so a rate-limited call does not raise a false
// billing alarm.
func ClassifyStatus(backend models.Backend, status int, body string) *Error {
	e := &Error{
		Backend:    backend,
		StatusCode: status,
		Message:    strings.TrimSpace(body),
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("request failed with status %d", status)
	}

	if status == 402 || containsAnyFold(body, quotaPhrases) {
		e.QuotaLimited = true
	}
	if status == 429 || status >= 500 || containsAnyFold(body, rateLimitPhrases) {
		e.Recoverable = true
	}
	return e
}

// IsRecoverable reports whether the error allows a retry or a fallback to
// another backend.
func IsRecoverable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Recoverable
}

// IsQuotaLimited reports whether the error signals billing or quota
// exhaustion on the remote provider.
func IsQuotaLimited(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.QuotaLimited
}

func containsAnyFold(s string, phrases []string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
