// Package lock implements the engine's cross-process session lock (C5): a
// TTL-based advisory lock identifying its holder, so a crashed process's
// lock can be taken over once its TTL lapses rather than wedging the
// session forever. This is deliberately not a flock(2) lock — flock
// releases automatically when its holding process dies, which is exactly
// the property a network filesystem or a holder that only crashes its
// goroutine (not the process) cannot rely on. The backoff-polling
// acquisition loop below follows the shape of the pack's own
// inode-verified flock poller, adapted to TTL/holder semantics instead of
// kernel-enforced exclusion.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

const (
	// DefaultTTL is how long a lock is valid without renewal before another
	// holder may take it over.
	DefaultTTL = 60 * time.Second
	// DefaultAcquireTimeout bounds how long Acquire polls before giving up.
	DefaultAcquireTimeout = 5 * time.Second

	minBackoff = 50 * time.Millisecond
	maxBackoff = 200 * time.Millisecond
)

// holderRecord is the JSON content written into the lock file.
type holderRecord struct {
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lock guards one session directory against concurrent access from
// another process or another docxsession.Manager instance.
type Lock struct {
	path     string
	holderID string
	ttl      time.Duration
}

// NewHolderID builds a holder identity combining this process's pid,
// hostname, and a random suffix, so two processes racing at the exact
// same pid-reuse window still disambiguate.
func NewHolderID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%d@%s:%06x", os.Getpid(), host, rand.Int31n(1<<24))
}

// New returns a Lock backed by the file at path, identified by holderID
// with the given TTL. Pass lock.NewHolderID() for holderID in production;
// tests supply a fixed value for determinism.
func New(path, holderID string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{path: path, holderID: holderID, ttl: ttl}
}

// Acquire attempts to take the lock, retrying with backoff until timeout
// elapses. It succeeds immediately if no lock file exists or the existing
// holder's TTL has expired (a stale takeover).
func (l *Lock) Acquire(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	deadline := time.Now().Add(timeout)
	backoff := minBackoff

	for {
		err := l.tryAcquire()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errHeldByOther) {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return docxerr.New(docxerr.LockError, fmt.Sprintf("timed out acquiring lock %s after %s", l.path, timeout))
		}
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

var errHeldByOther = errors.New("lock: held by another holder")

// tryAcquire makes a single attempt: create the lock file exclusively, or
// if it already exists, take it over when the existing holder has expired.
func (l *Lock) tryAcquire() error {
	rec := holderRecord{HolderID: l.holderID, ExpiresAt: time.Now().Add(l.ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return docxerr.Wrap(docxerr.LockError, "marshal lock record", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err == nil {
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return docxerr.Wrap(docxerr.LockError, "write lock file", err)
		}
		return f.Sync()
	}
	if !os.IsExist(err) {
		return docxerr.Wrap(docxerr.LockError, "create lock file", err)
	}

	existing, readErr := l.readRecord()
	if readErr != nil {
		// The file vanished between the failed create and our read, or is
		// corrupt; either way treat it as contested and let the caller retry.
		return errHeldByOther
	}
	if existing.HolderID == l.holderID {
		return l.writeRecord(rec)
	}
	if time.Now().Before(existing.ExpiresAt) {
		return errHeldByOther
	}
	return l.writeRecord(rec)
}

func (l *Lock) readRecord() (*holderRecord, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var rec holderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *Lock) writeRecord(rec holderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return docxerr.Wrap(docxerr.LockError, "marshal lock record", err)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return docxerr.Wrap(docxerr.LockError, "take over lock file", err)
	}
	return nil
}

// Renew extends the lock's expiry, failing with LockError if this holder
// no longer owns it (it was taken over after its TTL lapsed).
func (l *Lock) Renew() error {
	existing, err := l.readRecord()
	if err != nil {
		return docxerr.Wrap(docxerr.LockError, "read lock file for renew", err)
	}
	if existing.HolderID != l.holderID {
		return docxerr.New(docxerr.LockError, "lock no longer held by this holder")
	}
	return l.writeRecord(holderRecord{HolderID: l.holderID, ExpiresAt: time.Now().Add(l.ttl)})
}

// RenewInterval is the recommended ticker period for a background renewer:
// a third of the TTL, leaving two missed renewals of slack before another
// holder can take over.
func (l *Lock) RenewInterval() time.Duration {
	return l.ttl / 3
}

// Release removes the lock file if this holder still owns it. Releasing a
// lock this holder no longer owns (already taken over) is a no-op, not an
// error — the caller's business is done either way.
func (l *Lock) Release() error {
	existing, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return docxerr.Wrap(docxerr.LockError, "read lock file for release", err)
	}
	if existing.HolderID != l.holderID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return docxerr.Wrap(docxerr.LockError, "remove lock file", err)
	}
	return nil
}

// HolderID returns the identity this Lock acquires under.
func (l *Lock) HolderID() string { return l.holderID }

// String renders the lock path and the full quoted holder id, useful in
// log lines.
func (l *Lock) String() string {
	return l.path + "#" + strconv.Quote(l.holderID)
}
