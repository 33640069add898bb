package sqledger

import (
	"context"
	"database/sql"
)

const (
	// DefaultTableName is the base name of the ledger table. Dialects may
	// qualify it, see [Dialect.DefaultLedgerTable].
	DefaultTableName = "sqledger_changelog"
)

// Executor is satisfied by *sql.DB, *sql.Tx, and *sql.Conn. Ledger reads and
// writes go through this interface so they can run inside or outside a
// transaction as the caller requires.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is the capability surface a target database must provide. The
// engine depends only on this interface; everything vendor-specific (DDL
// syntax, placeholder style, advisory locking, error classification) lives
// behind it. Implementations for Postgres, SQLite, and MySQL are in the
// dialect package.
type Dialect interface {
	// Name identifies the dialect ("postgres", "sqlite", "mysql").
	Name() string

	// DefaultLedgerTable is the table the ledger lives in when the caller
	// does not choose one, including any schema qualification.
	DefaultLedgerTable() string

	// QuoteIdentifier quotes a (possibly schema-qualified) identifier for
	// safe interpolation into DDL and queries.
	QuoteIdentifier(name string) string

	// Rebind rewrites a query written with `?` placeholders into the
	// dialect's placeholder style.
	Rebind(query string) string

	// CreateLedgerSQL returns the statements that create the ledger table
	// and its indexes if they do not exist. Statements must be idempotent.
	CreateLedgerSQL(table string) []string

	// HasTable reports whether the named table exists.
	HasTable(ctx context.Context, db Executor, table string) (bool, error)

	// TransactionalDDL reports whether schema changes roll back with the
	// enclosing transaction. When false, a failed changeset may leave
	// partial schema changes behind that need manual compensation.
	TransactionalDDL() bool

	// IsDuplicateEntry reports whether err is the driver's unique-constraint
	// violation, used to classify concurrent double-insertion on the ledger.
	IsDuplicateEntry(err error) bool

	// ErrorData extracts driver-specific diagnostics from err for logging.
	// It returns nil when err carries none.
	ErrorData(err error) []LogField

	// TryLock attempts to acquire the named advisory lock on conn without
	// blocking, reporting whether it was acquired. The lock is tied to conn
	// and must be released with Unlock on the same conn.
	TryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error)

	// Unlock releases the named advisory lock held by conn.
	Unlock(ctx context.Context, conn *sql.Conn, name string) error

	// ForceUnlock releases the named lock regardless of owner, for operator
	// recovery after a crash. Dialects whose locks die with the session may
	// make this a no-op.
	ForceUnlock(ctx context.Context, db Executor, name string) error
}
