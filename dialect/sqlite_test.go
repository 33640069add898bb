package dialect_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/dialect"
	"github.com/sqledger/sqledger/internal/withdb"
)

func TestSQLiteIdentity(t *testing.T) {
	t.Parallel()
	d := dialect.SQLite{}
	check.Equal(t, "sqlite", d.Name())
	check.Equal(t, "sqledger_changelog", d.DefaultLedgerTable())
	check.True(t, d.TransactionalDDL())
	check.Equal(t, `"sqledger_changelog"`, d.QuoteIdentifier("sqledger_changelog"))
	query := "SELECT 1 FROM t WHERE id = ?"
	check.Equal(t, query, d.Rebind(query))
}

func TestSQLiteLedgerDDLIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		d := dialect.SQLite{}
		ledger := sqledger.NewLedger(d, "")

		exists, err := d.HasTable(ctx, db, ledger.TableName)
		assert.Nil(t, err)
		check.True(t, !exists)

		assert.Nil(t, ledger.Ensure(ctx, db))
		assert.Nil(t, ledger.Ensure(ctx, db))

		exists, err = d.HasTable(ctx, db, ledger.TableName)
		assert.Nil(t, err)
		check.True(t, exists)
		return nil
	})
	assert.Nil(t, err)
}

func TestSQLitePartialUniqueIndexGuardsAppliedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		d := dialect.SQLite{}
		ledger := sqledger.NewLedger(d, "")
		assert.Nil(t, ledger.Ensure(ctx, db))

		insert := `INSERT INTO sqledger_changelog
			(id, author, checksum, execution_order, applied_at, applied_by, execution_time_in_millis, run_id, status)
			VALUES (?, ?, ?, ?, datetime('now'), ?, 0, ?, ?)`
		_, err := db.ExecContext(ctx, insert, "0001_create_users", "ana", "aa", 1, "test", "run-1", "applied")
		assert.Nil(t, err)

		// A second applied row for the same identity violates the partial
		// unique index, and the driver error is classified as a duplicate.
		_, err = db.ExecContext(ctx, insert, "0001_create_users", "ana", "aa", 2, "test", "run-2", "applied")
		assert.Error(t, err)
		check.True(t, d.IsDuplicateEntry(err))
		fields := d.ErrorData(err)
		assert.Equal(t, 1, len(fields))
		check.Equal(t, "sqlite_code", fields[0].Key)

		// Rolled back history rows for the same identity are fine: the
		// index only constrains rows still in status applied.
		_, err = db.ExecContext(ctx, insert, "0001_create_users", "ana", "aa", 3, "test", "run-3", "rolled_back")
		check.Nil(t, err)

		check.True(t, !d.IsDuplicateEntry(nil))
		return nil
	})
	assert.Nil(t, err)
}

func TestSQLiteLocksAreExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		d := dialect.SQLite{}
		const name = "sqledger-test-lock"

		first, err := db.Conn(ctx)
		assert.Nil(t, err)
		defer first.Close()
		second, err := db.Conn(ctx)
		assert.Nil(t, err)
		defer second.Close()

		locked, err := d.TryLock(ctx, first, name)
		assert.Nil(t, err)
		check.True(t, locked)

		// Held elsewhere: TryLock reports contention without blocking.
		locked, err = d.TryLock(ctx, second, name)
		assert.Nil(t, err)
		check.True(t, !locked)

		// Different names do not contend.
		locked, err = d.TryLock(ctx, second, "sqledger-other-lock")
		assert.Nil(t, err)
		check.True(t, locked)

		assert.Nil(t, d.Unlock(ctx, first, name))
		locked, err = d.TryLock(ctx, second, name)
		assert.Nil(t, err)
		check.True(t, locked)
		return nil
	})
	assert.Nil(t, err)
}

func TestSQLiteForceUnlockBreaksAnAbandonedLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		d := dialect.SQLite{}
		const name = "sqledger-stale-lock"

		// ForceUnlock before any lock table exists is a quiet no-op.
		assert.Nil(t, d.ForceUnlock(ctx, db, name))

		conn, err := db.Conn(ctx)
		assert.Nil(t, err)
		locked, err := d.TryLock(ctx, conn, name)
		assert.Nil(t, err)
		check.True(t, locked)
		// The holder goes away without unlocking; its row stays behind.
		assert.Nil(t, conn.Close())

		fresh, err := db.Conn(ctx)
		assert.Nil(t, err)
		defer fresh.Close()
		locked, err = d.TryLock(ctx, fresh, name)
		assert.Nil(t, err)
		check.True(t, !locked)

		assert.Nil(t, d.ForceUnlock(ctx, db, name))
		locked, err = d.TryLock(ctx, fresh, name)
		assert.Nil(t, err)
		check.True(t, locked)
		return nil
	})
	assert.Nil(t, err)
}
