package sqledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/dialect"
	"github.com/sqledger/sqledger/internal/withdb"
)

func TestMarkAppliedRecordsWithoutExecuting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		users := sqledger.Changeset{
			ID:     "0001_create_users",
			Author: "ana",
			Apply:  "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		}
		sessions := sqledger.Changeset{
			ID:     "0002_create_sessions",
			Author: "omar",
			Apply:  "CREATE TABLE sessions (token TEXT PRIMARY KEY);",
		}
		migrator := sqledger.NewMigrator(changelogOf(users, sessions), dialect.SQLite{})
		migrator.Logger = logger
		migrator.Principal = "dba"

		marked, err := migrator.MarkApplied(ctx, db, "0001_create_users::ana")
		assert.Nil(t, err)
		want := []sqledger.LedgerEntry{{
			ID:             "0001_create_users",
			Author:         "ana",
			Checksum:       users.Checksum(sqledger.NormalizeNone),
			ExecutionOrder: 1,
			AppliedBy:      "dba",
			Status:         sqledger.StatusApplied,
		}}
		check.Equal(t, want, marked, cmpopts.IgnoreFields(sqledger.LedgerEntry{}, "AppliedAt", "RunID"))

		// Marking records provenance only; the changeset's body never ran.
		exists, err := dialect.SQLite{}.HasTable(ctx, db, "users")
		assert.Nil(t, err)
		check.True(t, !exists)

		// The other changeset is still pending.
		plan, err := migrator.Plan(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, []sqledger.Changeset{sessions}, plan)
		return nil
	})
	assert.Nil(t, err)
}

func TestMarkAppliedSkipsUnknownAndAlreadyApplied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		users := sqledger.Changeset{
			ID:     "0001_create_users",
			Author: "ana",
			Apply:  "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		}
		migrator := sqledger.NewMigrator(changelogOf(users), dialect.SQLite{})
		migrator.Logger = logger

		marked, err := migrator.MarkApplied(ctx, db, "0001_create_users::ana")
		assert.Nil(t, err)
		check.Equal(t, 1, len(marked))

		// Marking again is a warning, not an error.
		marked, err = migrator.MarkApplied(ctx, db, "0001_create_users::ana")
		assert.Nil(t, err)
		check.Equal(t, 0, len(marked))

		// So is a key the changelog does not know.
		marked, err = migrator.MarkApplied(ctx, db, "0009_mystery::nobody")
		assert.Nil(t, err)
		check.Equal(t, 0, len(marked))

		// A key that does not parse is an error.
		_, err = migrator.MarkApplied(ctx, db, "not-a-key")
		check.Error(t, err)
		return nil
	})
	assert.Nil(t, err)
}

func TestSetChecksumsCreatesAndClearsDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		users := sqledger.Changeset{
			ID:     "0001_create_users",
			Author: "ana",
			Apply:  "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		}
		migrator := sqledger.NewMigrator(changelogOf(users), dialect.SQLite{})
		migrator.Logger = logger
		_, err := migrator.Update(ctx, db)
		assert.Nil(t, err)

		// Overwriting the stored checksum makes the ledger disagree with
		// the body, which the next run refuses to touch.
		updated, err := migrator.SetChecksums(ctx, db, sqledger.ChecksumUpdate{
			ID:          "0001_create_users",
			Author:      "ana",
			NewChecksum: "f00df00d",
		})
		assert.Nil(t, err)
		assert.Equal(t, 1, len(updated))
		check.Equal(t, "f00df00d", updated[0].Checksum)

		_, err = migrator.Update(ctx, db)
		var drift *sqledger.ChecksumDriftError
		assert.True(t, errors.As(err, &drift))
		check.Equal(t, "f00df00d", drift.Stored)

		// Recalculating from the body repairs it.
		repaired, err := migrator.RecalculateChecksums(ctx, db, "0001_create_users::ana")
		assert.Nil(t, err)
		assert.Equal(t, 1, len(repaired))
		check.Equal(t, users.Checksum(sqledger.NormalizeNone), repaired[0].Checksum)

		report, err := migrator.Update(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, sqledger.RunCompleted, report.State)
		return nil
	})
	assert.Nil(t, err)
}

func TestSetChecksumsSkipsNoopsAndMissingEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		users := sqledger.Changeset{
			ID:     "0001_create_users",
			Author: "ana",
			Apply:  "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		}
		migrator := sqledger.NewMigrator(changelogOf(users), dialect.SQLite{})
		migrator.Logger = logger
		_, err := migrator.Update(ctx, db)
		assert.Nil(t, err)

		// Setting the checksum it already has changes nothing.
		updated, err := migrator.SetChecksums(ctx, db, sqledger.ChecksumUpdate{
			ID:          "0001_create_users",
			Author:      "ana",
			NewChecksum: users.Checksum(sqledger.NormalizeNone),
		})
		assert.Nil(t, err)
		check.Equal(t, 0, len(updated))

		// An identity with no applied entry is skipped with a warning.
		updated, err = migrator.SetChecksums(ctx, db, sqledger.ChecksumUpdate{
			ID:          "0009_mystery",
			Author:      "nobody",
			NewChecksum: "f00df00d",
		})
		assert.Nil(t, err)
		check.Equal(t, 0, len(updated))
		return nil
	})
	assert.Nil(t, err)
}

func TestRebaselineChecksumsAcceptsEditedBodies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		users := sqledger.Changeset{
			ID:     "0001_create_users",
			Author: "ana",
			Apply:  "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		}
		sessions := sqledger.Changeset{
			ID:     "0002_create_sessions",
			Author: "omar",
			Apply:  "CREATE TABLE sessions (token TEXT PRIMARY KEY);",
		}
		migrator := sqledger.NewMigrator(changelogOf(users, sessions), dialect.SQLite{})
		migrator.Logger = logger
		_, err := migrator.Update(ctx, db)
		assert.Nil(t, err)

		edited := users
		edited.Apply = "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);"
		drifted := sqledger.NewMigrator(changelogOf(edited, sessions), dialect.SQLite{})
		drifted.Logger = logger
		_, err = drifted.Update(ctx, db)
		var drift *sqledger.ChecksumDriftError
		assert.True(t, errors.As(err, &drift))

		// Rebaselining rewrites only the entries that actually changed.
		updated, err := drifted.RebaselineChecksums(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 1, len(updated))
		check.Equal(t, "0001_create_users::ana", updated[0].Key())
		check.Equal(t, edited.Checksum(sqledger.NormalizeNone), updated[0].Checksum)

		report, err := drifted.Update(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, sqledger.RunCompleted, report.State)
		status, err := drifted.Status(ctx, db)
		assert.Nil(t, err)
		check.True(t, status.UpToDate())
		return nil
	})
	assert.Nil(t, err)
}

func TestUnlockClearsAStaleLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDSN(ctx, func(db *sql.DB, dsn string) error {
		d := dialect.SQLite{}
		lockName := "sqledger-" + sqledger.DefaultTableName

		// A crashed run leaves its lock row behind: acquire from a separate
		// pool, then drop the pool without unlocking.
		crashed, err := sql.Open("sqlite", dsn)
		assert.Nil(t, err)
		conn, err := crashed.Conn(ctx)
		assert.Nil(t, err)
		locked, err := d.TryLock(ctx, conn, lockName)
		assert.Nil(t, err)
		assert.True(t, locked)
		assert.Nil(t, conn.Close())
		assert.Nil(t, crashed.Close())

		migrator := sqledger.NewMigrator(changelogOf(sqledger.Changeset{
			ID:     "0001_create_users",
			Author: "ana",
			Apply:  "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		}), d)
		migrator.Logger = logger
		migrator.LockTimeout = 250 * time.Millisecond

		_, err = migrator.Update(ctx, db)
		var timeout *sqledger.LockTimeoutError
		assert.True(t, errors.As(err, &timeout))

		// Unlock is the operator's recovery path.
		assert.Nil(t, migrator.Unlock(ctx, db))
		report, err := migrator.Update(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, sqledger.RunCompleted, report.State)
		return nil
	})
	assert.Nil(t, err)
}
