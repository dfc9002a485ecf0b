package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow("acct-1"))
	assert.True(t, l.Allow("acct-1"))
	assert.False(t, l.Allow("acct-1"), "burst exhausted")

	// Another key has its own bucket.
	assert.True(t, l.Allow("acct-2"))
}

func TestGetLimiterReusesInstance(t *testing.T) {
	l := NewLimiter(100, 10)
	assert.Same(t, l.GetLimiter("acct-1"), l.GetLimiter("acct-1"))
	assert.NotSame(t, l.GetLimiter("acct-1"), l.GetLimiter("acct-2"))
}

func TestTokensDrainWithUse(t *testing.T) {
	l := NewLimiter(3600, 5)

	before := l.Tokens("acct-1")
	l.Allow("acct-1")
	after := l.Tokens("acct-1")

	assert.Less(t, after, before)
}
