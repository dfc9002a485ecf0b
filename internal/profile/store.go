package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLease bounds how long a crashed holder can block a profile.
	DefaultLease = 10 * time.Minute
	// MinLease is the floor applied to caller-supplied lease durations.
	MinLease = 30 * time.Second

	maxProfileIDLen = 80
	lockFileName    = "profile.lock"
)

// acquireSeq distinguishes concurrent acquisitions within one process; it
// stands in for a thread id, which Go does not expose.
var acquireSeq atomic.Int64

// LockFile is the persisted ownership claim for one profile directory. At
// most one valid (non-expired, live-owner) lock file exists per profile.
type LockFile struct {
	PID       int       `json:"pid"`
	ThreadID  int64     `json:"threadId"`
	LockToken string    `json:"lockToken"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Lease is the capability returned by Acquire. Only the holder of a matching
// token may renew or release the underlying lock.
type Lease struct {
	ProfileID   string
	ProfilePath string
	LockPath    string
	LockToken   string
}

// LockedError reports that another live process holds the profile. Terminal
// per call; callers implement their own backoff.
type LockedError struct {
	ProfileID string
	OwnerPID  int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("profile %q locked by pid %d", e.ProfileID, e.OwnerPID)
}

// Store guards persistent browser profile directories. A persistent browser
// context cannot be shared across processes, so each directory is protected
// by a lease: owner pid + random token + expiry. The read-check-write window
// is not atomic; contention is rare and self-heals via lease expiry.
type Store struct {
	root  string
	lease time.Duration
}

// NewStore creates a profile store rooted at root. leaseFor zero means
// DefaultLease; values below MinLease are raised to it.
func NewStore(root string, leaseFor time.Duration) *Store {
	if leaseFor <= 0 {
		leaseFor = DefaultLease
	}
	if leaseFor < MinLease {
		leaseFor = MinLease
	}
	return &Store{root: root, lease: leaseFor}
}

// Root returns the profiles root directory.
func (s *Store) Root() string { return s.root }

// SanitizeProfileID normalizes a profile id: lowercase, restricted to
// [a-z0-9._-], capped at 80 chars, empty falls back to "default".
func SanitizeProfileID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxProfileIDLen {
		out = out[:maxProfileIDLen]
	}
	if out == "" {
		return "default"
	}
	return out
}

// Acquire claims the profile directory for this process, creating it if
// needed. Stale locks are reclaimed when expired, owned by this same
// process, or owned by a dead process; otherwise Acquire fails immediately
// with a *LockedError.
func (s *Store) Acquire(profileID string) (*Lease, error) {
	id := SanitizeProfileID(profileID)
	profilePath := filepath.Join(s.root, id)
	if err := os.MkdirAll(profilePath, 0o755); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}

	lockPath := filepath.Join(profilePath, lockFileName)
	existing, err := readLockFile(lockPath)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		now := time.Now()
		switch {
		case !now.Before(existing.ExpiresAt):
			log.Printf("profile %s: reclaiming expired lock (pid %d)", id, existing.PID)
		case existing.PID == os.Getpid():
			// Same-process recovery after a crash-free restart of the
			// holder; see DESIGN.md for the double-acquire caveat.
			log.Printf("profile %s: reclaiming own lock", id)
		case !processAlive(existing.PID):
			log.Printf("profile %s: reclaiming lock from dead pid %d", id, existing.PID)
		default:
			return nil, &LockedError{ProfileID: id, OwnerPID: existing.PID}
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	now := time.Now()
	lock := LockFile{
		PID:       os.Getpid(),
		ThreadID:  acquireSeq.Add(1),
		LockToken: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.lease),
	}
	if err := writeLockFile(lockPath, lock); err != nil {
		return nil, err
	}

	return &Lease{
		ProfileID:   id,
		ProfilePath: profilePath,
		LockPath:    lockPath,
		LockToken:   lock.LockToken,
	}, nil
}

// Renew extends the lease expiry, but only while the on-disk token still
// matches; a lock that was reassigned after expiry is never renewed.
func (s *Store) Renew(lease *Lease) error {
	lock, err := readLockFile(lease.LockPath)
	if err != nil {
		return err
	}
	if lock == nil || lock.LockToken != lease.LockToken {
		return errors.New("lease no longer held")
	}
	lock.ExpiresAt = time.Now().Add(s.lease)
	return writeLockFile(lease.LockPath, *lock)
}

// Release deletes the lock file on token match. A non-matching token is a
// no-op: never delete a lock that belongs to someone else.
func (s *Store) Release(lease *Lease) error {
	lock, err := readLockFile(lease.LockPath)
	if err != nil {
		return err
	}
	if lock == nil || lock.LockToken != lease.LockToken {
		return nil
	}
	if err := os.Remove(lease.LockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

func readLockFile(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	var lock LockFile
	if err := json.Unmarshal(data, &lock); err != nil {
		// Unparseable lock files are treated as absent.
		log.Printf("warning: discarding corrupt lock file %s: %v", path, err)
		return nil, nil
	}
	return &lock, nil
}

func writeLockFile(path string, lock LockFile) error {
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// processAlive signal-probes a pid. Permission denied means the process
// exists under another user, so it counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
