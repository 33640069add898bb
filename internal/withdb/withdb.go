// withdb is a simplified way of creating throwaway test databases. Each one
// is a SQLite file in its own temporary directory, so engine tests run
// against a real database without needing a server.
package withdb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/sqledger/sqledger/internal/multierr"
)

// WithDB will:
//   - create a new, empty SQLite database in a temporary file
//   - open a connection to that database
//   - run the cb function
//   - close the connection and remove the file
//
// This is designed to be an internal helper for testing the engine and its
// packages, and should not be relied upon externally.
func WithDB(ctx context.Context, cb func(*sql.DB) error) (final error) {
	return WithDSN(ctx, func(db *sql.DB, _ string) error {
		return cb(db)
	})
}

// WithDSN is like [WithDB], but also hands cb the connection string of the
// database, so that a test can open more connections to the same file. Used
// by lock contention tests, which need two separate pools.
func WithDSN(ctx context.Context, cb func(db *sql.DB, dsn string) error) (final error) {
	name, err := randomID("test")
	if err != nil {
		return fmt.Errorf("withdb: random name failed: %w", err)
	}
	dir, err := os.MkdirTemp("", "withdb")
	if err != nil {
		return fmt.Errorf("withdb(%s) failed to create dir: %w", name, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			final = multierr.Join(final, fmt.Errorf("withdb(%s) failed to remove dir: %w", name, err))
		}
	}()

	dsn := DSN(filepath.Join(dir, name+".db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("withdb(%s) failed to open: %w", name, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			final = multierr.Join(final, fmt.Errorf("withdb(%s) failed to close: %w", name, err))
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("withdb(%s) failed to ping: %w", name, err)
	}
	return cb(db, dsn)
}

// DSN builds the connection string for a SQLite database file, with a busy
// timeout so concurrent connections queue instead of failing immediately,
// and WAL mode so readers do not block the writer.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
}

// randomID is a helper for coming up with the names of the test databases.
// It uses 32 random bits in the name, which means collisions are unlikely.
func randomID(prefix string) (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes)), nil
}
