package profile

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeProfileID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "default"},
		{"Default", "default"},
		{"acct-1", "acct-1"},
		{"My Profile!", "myprofile"},
		{"user@example.com", "userexample.com"},
		{"  spaced  ", "spaced"},
		{strings.Repeat("a", 200), strings.Repeat("a", 80)},
	}
	for _, tt := range tests {
		got := SanitizeProfileID(tt.in)
		assert.Equal(t, tt.want, got)
		// Idempotent: sanitizing a sanitized id is a no-op.
		assert.Equal(t, got, SanitizeProfileID(got))
		assert.LessOrEqual(t, len(got), 80)
		assert.Regexp(t, `^[a-z0-9._-]+$`, got)
	}
}

func TestAcquireCreatesProfileDirAndLock(t *testing.T) {
	store := NewStore(t.TempDir(), time.Minute)

	lease, err := store.Acquire("Acct-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", lease.ProfileID)
	assert.DirExists(t, lease.ProfilePath)
	assert.FileExists(t, lease.LockPath)
	assert.NotEmpty(t, lease.LockToken)

	var lock LockFile
	data, err := os.ReadFile(lease.LockPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &lock))
	assert.Equal(t, os.Getpid(), lock.PID)
	assert.Equal(t, lease.LockToken, lock.LockToken)
	assert.True(t, lock.ExpiresAt.After(lock.CreatedAt))
}

func TestAcquireFailsWhileHeldByLiveProcess(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, time.Minute)

	// Plant a lock owned by a live foreign process (our parent).
	lockPath := filepath.Join(root, "acct-1", "profile.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	writeTestLock(t, lockPath, LockFile{
		PID:       os.Getppid(),
		LockToken: "foreign-token",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})

	_, err := store.Acquire("acct-1")
	require.Error(t, err)

	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, os.Getppid(), locked.OwnerPID)
	assert.Contains(t, err.Error(), "locked by pid")
}

func TestAcquireReclaimsExpiredLock(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, time.Minute)

	lockPath := filepath.Join(root, "acct-1", "profile.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	writeTestLock(t, lockPath, LockFile{
		PID:       os.Getppid(),
		LockToken: "expired-token",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	lease, err := store.Acquire("acct-1")
	require.NoError(t, err)
	assert.NotEqual(t, "expired-token", lease.LockToken)
}

func TestAcquireReclaimsOwnProcessLock(t *testing.T) {
	store := NewStore(t.TempDir(), time.Minute)

	first, err := store.Acquire("acct-1")
	require.NoError(t, err)

	// Same process: the second acquisition supersedes the first lease.
	second, err := store.Acquire("acct-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.LockToken, second.LockToken)

	// The first lease can no longer renew.
	assert.Error(t, store.Renew(first))
	assert.NoError(t, store.Renew(second))
}

func TestAcquireReclaimsDeadOwnerLock(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, time.Minute)

	// Spawn and reap a child so we have a pid that is definitely dead.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPID := cmd.ProcessState.Pid()

	lockPath := filepath.Join(root, "acct-1", "profile.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	writeTestLock(t, lockPath, LockFile{
		PID:       deadPID,
		LockToken: "dead-token",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})

	lease, err := store.Acquire("acct-1")
	require.NoError(t, err)
	assert.NotEqual(t, "dead-token", lease.LockToken)
}

func TestReleaseWithMismatchedTokenIsNoOp(t *testing.T) {
	store := NewStore(t.TempDir(), time.Minute)

	lease, err := store.Acquire("acct-1")
	require.NoError(t, err)

	stale := &Lease{
		ProfileID:   lease.ProfileID,
		ProfilePath: lease.ProfilePath,
		LockPath:    lease.LockPath,
		LockToken:   "not-the-token",
	}
	require.NoError(t, store.Release(stale))
	assert.FileExists(t, lease.LockPath, "a mismatched release must not delete a valid lock")

	require.NoError(t, store.Release(lease))
	assert.NoFileExists(t, lease.LockPath)

	// Releasing twice is harmless.
	require.NoError(t, store.Release(lease))
}

func TestRenewExtendsExpiry(t *testing.T) {
	store := NewStore(t.TempDir(), time.Minute)

	lease, err := store.Acquire("acct-1")
	require.NoError(t, err)

	before := readTestLock(t, lease.LockPath)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Renew(lease))
	after := readTestLock(t, lease.LockPath)

	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
	assert.Equal(t, before.LockToken, after.LockToken)
}

func TestLeaseFloor(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)

	lease, err := store.Acquire("acct-1")
	require.NoError(t, err)

	lock := readTestLock(t, lease.LockPath)
	assert.GreaterOrEqual(t, lock.ExpiresAt.Sub(lock.CreatedAt), MinLease)
}

func TestCorruptLockFileIsDiscarded(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, time.Minute)

	lockPath := filepath.Join(root, "acct-1", "profile.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, []byte("{not json"), 0o644))

	_, err := store.Acquire("acct-1")
	assert.NoError(t, err)
}

func writeTestLock(t *testing.T, path string, lock LockFile) {
	t.Helper()
	data, err := json.Marshal(lock)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readTestLock(t *testing.T, path string) LockFile {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lock LockFile
	require.NoError(t, json.Unmarshal(data, &lock))
	return lock
}
