// Package dblock provides application level distributed locks on top of
// whatever advisory locking facility the target database offers.
//
//   - https://www.postgresql.org/docs/current/explicit-locking.html#ADVISORY-LOCKS
//   - https://dev.mysql.com/doc/refman/8.0/en/locking-functions.html
package dblock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sqledger/sqledger/internal/multierr"
)

// SpinWait is the amount of time dblock sleeps between attempts to acquire
// an in-use lock.
const SpinWait time.Duration = 100 * time.Millisecond

// ErrTimeout reports that the lock was still held by someone else when the
// caller's timeout elapsed.
var ErrTimeout = errors.New("timed out waiting for lock")

// Locker is the locking capability a dialect provides. TryLock must not
// block: it reports whether the named lock was acquired on conn, and a lock
// it acquires must be released by Unlock on the same conn.
type Locker interface {
	TryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error)
	Unlock(ctx context.Context, conn *sql.Conn, name string) error
}

// With opens a dedicated connection to db, acquires the named lock on it,
// calls cb with that same connection, then releases the lock and closes the
// connection. Lock and work share one session, so a dropped session takes
// its lock with it.
//
// With spins on the non-blocking TryLock every [SpinWait] rather than
// issuing a blocking acquire, so that server-side statement timeouts
// configured by the caller do not kill the wait. It gives up with
// [ErrTimeout] once timeout has elapsed, or earlier if ctx expires.
func With(ctx context.Context, db *sql.DB, l Locker, name string, timeout time.Duration, cb func(*sql.Conn) error) (final error) {
	// A *sql.Conn guarantees that TryLock, cb, and Unlock all happen in the
	// same session.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("dblock(%s) failed to open conn: %w", name, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			final = multierr.Join(final, fmt.Errorf("dblock(%s) failed to close conn: %w", name, err))
		}
	}()

	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock(ctx, conn, name)
		if err != nil {
			return fmt.Errorf("dblock(%s) failed to acquire: %w", name, err)
		}
		if locked {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("dblock(%s): %w", name, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(SpinWait):
		}
	}

	defer func() {
		if err := l.Unlock(ctx, conn, name); err != nil {
			final = multierr.Join(final, fmt.Errorf("dblock(%s) failed to unlock: %w", name, err))
		}
	}()
	return cb(conn)
}
