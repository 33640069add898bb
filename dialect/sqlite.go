package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"

	"github.com/sqledger/sqledger"
)

// lockTable is where SQLite advisory locks live. SQLite has no server to
// hold a session lock, so a lock is a row in this table. Lock rows survive
// a crashed process, which is what ForceUnlock is for.
const lockTable = "sqledger_lock"

// SQLite targets SQLite via the modernc.org/sqlite driver (driver name
// "sqlite"). DDL rolls back with its transaction and the ledger's
// at-most-one-applied invariant is additionally backed by a partial unique
// index. Locking uses a lock table rather than a server facility; open the
// database with a busy_timeout pragma so concurrent writers queue.
type SQLite struct{}

var _ sqledger.Dialect = SQLite{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) DefaultLedgerTable() string { return sqledger.DefaultTableName }

func (SQLite) QuoteIdentifier(name string) string { return quoteParts(name, '"') }

// Rebind is the identity: SQLite understands `?` natively.
func (SQLite) Rebind(query string) string { return query }

func (d SQLite) CreateLedgerSQL(table string) []string {
	_, bare := ParseTableName(table)
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT NOT NULL,
				author TEXT NOT NULL,
				checksum TEXT NOT NULL,
				execution_order INTEGER NOT NULL PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL,
				applied_by TEXT NOT NULL,
				execution_time_in_millis INTEGER NOT NULL,
				run_id TEXT NOT NULL,
				status TEXT NOT NULL,
				rolled_back_at TIMESTAMP,
				rolled_back_by TEXT
			)
		`, d.QuoteIdentifier(table)),
		fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (id, author) WHERE status = 'applied'`,
			d.QuoteIdentifier(bare+"_applied_idx"),
			d.QuoteIdentifier(table),
		),
	}
}

func (SQLite) HasTable(ctx context.Context, db sqledger.Executor, table string) (bool, error) {
	_, bare := ParseTableName(table)
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, bare,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has table %s: %w", table, err)
	}
	return n > 0, nil
}

func (SQLite) TransactionalDDL() bool { return true }

func (SQLite) IsDuplicateEntry(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	// SQLITE_CONSTRAINT and its PRIMARYKEY / UNIQUE extended codes.
	case 19, 1555, 2067:
		return true
	}
	return false
}

func (SQLite) ErrorData(err error) []sqledger.LogField {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return nil
	}
	return []sqledger.LogField{{Key: "sqlite_code", Value: serr.Code()}}
}

// TryLock claims the named lock by inserting a row into the lock table,
// creating that table on first use. An INSERT OR IGNORE that changes no rows
// means someone else holds the lock.
func (d SQLite) TryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	if err := d.ensureLockTable(ctx, conn); err != nil {
		return false, err
	}
	res, err := conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (name, acquired_at) VALUES (?, ?)`,
		d.QuoteIdentifier(lockTable),
	), name, time.Now().UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (d SQLite) Unlock(ctx context.Context, conn *sql.Conn, name string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE name = ?`, d.QuoteIdentifier(lockTable),
	), name)
	return err
}

// ForceUnlock deletes the lock row no matter who wrote it. This is the
// recovery path after a crash left a stale lock behind.
func (d SQLite) ForceUnlock(ctx context.Context, db sqledger.Executor, name string) error {
	exists, err := d.HasTable(ctx, db, lockTable)
	if err != nil || !exists {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE name = ?`, d.QuoteIdentifier(lockTable),
	), name)
	return err
}

func (d SQLite) ensureLockTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT NOT NULL PRIMARY KEY,
			acquired_at TIMESTAMP NOT NULL
		)
	`, d.QuoteIdentifier(lockTable)))
	return err
}
