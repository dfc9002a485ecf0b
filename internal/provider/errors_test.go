package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webbroker/pkg/models"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		recoverable  bool
		quotaLimited bool
	}{
		{"server error is recoverable", 503, "service unavailable", true, false},
		{"plain rate limit is recoverable, not quota", 429, "too many requests", true, false},
		{"rate limit phrasing in 400", 400, "Rate limit exceeded, retry later", true, false},
		{"rate limited at plan ceiling is both", 429, "plan limit reached", true, true},
		{"payment required flags quota", 402, "payment required", false, true},
		{"quota phrasing flags quota", 403, "monthly quota exceeded", false, true},
		{"auth failure is terminal", 401, "invalid api key", false, false},
		{"bad request is terminal", 400, "missing projectId", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus(models.BackendSteel, tt.status, tt.body)
			assert.Equal(t, tt.recoverable, err.Recoverable, "recoverable")
			assert.Equal(t, tt.quotaLimited, err.QuotaLimited, "quotaLimited")
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, models.BackendSteel, err.Backend)
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	err := ClassifyTransport(models.BackendBrowserbase, context.DeadlineExceeded)
	assert.True(t, err.Recoverable)
	assert.True(t, IsRecoverable(err))
	assert.False(t, IsQuotaLimited(err))

	err = ClassifyTransport(models.BackendBrowserbase, errors.New("invalid response shape"))
	assert.False(t, err.Recoverable)
}

func TestIsRecoverableThroughWrapping(t *testing.T) {
	inner := ClassifyStatus(models.BackendSteel, 500, "boom")
	wrapped := fmt.Errorf("start session: %w", inner)
	assert.True(t, IsRecoverable(wrapped))
	assert.False(t, IsQuotaLimited(wrapped))
}

func TestNoSessionError(t *testing.T) {
	err := &NoSessionError{SessionID: "sess-1"}
	assert.Equal(t, `no active session for "sess-1"`, err.Error())
}

func TestWithRetryStopsOnTerminalError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return &Error{Backend: models.BackendSteel, Message: "invalid api key"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "terminal errors must not retry")
}

func TestWithRetryRetriesRecoverableErrors(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return ClassifyStatus(models.BackendSteel, 503, "unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return ClassifyStatus(models.BackendSteel, 503, "unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := withRetry(ctx, func() error {
		calls++
		return ClassifyStatus(models.BackendSteel, 503, "unavailable")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
