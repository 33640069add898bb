package sqledger_test

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

func TestStatusOnAFreshDatabaseIsAllPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		// No ledger table exists yet; Status must not create one.
		migrator := sqledger.NewMigrator(reversibleChangelog(), dialect.SQLite{})
		migrator.Logger = logger

		report, err := migrator.Status(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 3, len(report.Changesets))
		for _, status := range report.Changesets {
			check.Equal(t, sqledger.StatePending, status.State)
			check.Equal(t, nil, status.Entry)
		}
		check.Equal(t, 3, report.Count(sqledger.StatePending))
		check.True(t, !report.UpToDate())

		exists, err := dialect.SQLite{}.HasTable(ctx, db, sqledger.DefaultTableName)
		assert.Nil(t, err)
		check.True(t, !exists)
		return nil
	})
	assert.Nil(t, err)
}

func TestStatusClassifiesAppliedDriftedAndPending(t *testing.T) {
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

		// Edit one applied changeset and add a new pending one.
		edited := sessions
		edited.Apply = "CREATE TABLE sessions (token TEXT PRIMARY KEY, user_id INTEGER);"
		audit := sqledger.Changeset{
			ID:     "0003_create_audit",
			Author: "ana",
			Apply:  "CREATE TABLE audit (id INTEGER PRIMARY KEY);",
		}
		current := sqledger.NewMigrator(changelogOf(users, edited, audit), dialect.SQLite{})
		current.Logger = logger

		// Status classifies instead of failing: drift is a state here, not
		// an error.
		report, err := current.Status(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 3, len(report.Changesets))
		check.Equal(t, sqledger.StateApplied, report.Changesets[0].State)
		check.Equal(t, sqledger.StateDrifted, report.Changesets[1].State)
		check.Equal(t, sqledger.StatePending, report.Changesets[2].State)
		check.Equal(t, "0001_create_users::ana", report.Changesets[0].Key())

		// Applied and drifted classifications carry their ledger entries.
		assert.NotEqual(t, nil, report.Changesets[0].Entry)
		assert.NotEqual(t, nil, report.Changesets[1].Entry)
		check.Equal(t, nil, report.Changesets[2].Entry)
		check.Equal(t, sessions.Checksum(sqledger.NormalizeNone), report.Changesets[1].Entry.Checksum)

		check.Equal(t, 1, report.Count(sqledger.StateApplied))
		check.Equal(t, 1, report.Count(sqledger.StateDrifted))
		check.Equal(t, 1, report.Count(sqledger.StatePending))
		check.True(t, !report.UpToDate())
		check.Equal(t, nil, report.Unmatched)
		return nil
	})
	assert.Nil(t, err)
}

func TestStatusUpToDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		migrator := sqledger.NewMigrator(reversibleChangelog(), dialect.SQLite{})
		migrator.Logger = logger
		_, err := migrator.Update(ctx, db)
		assert.Nil(t, err)

		report, err := migrator.Status(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, 3, report.Count(sqledger.StateApplied))
		check.True(t, report.UpToDate())
		return nil
	})
	assert.Nil(t, err)
}

func TestStatusReportsUnmatchedEntries(t *testing.T) {
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

		shrunk := sqledger.NewMigrator(changelogOf(users), dialect.SQLite{})
		shrunk.Logger = logger
		report, err := shrunk.Status(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 1, len(report.Unmatched))
		check.Equal(t, "0002_create_sessions::omar", report.Unmatched[0].Key())
		// Unmatched entries are warnings; they do not make the database out
		// of date.
		check.True(t, report.UpToDate())
		return nil
	})
	assert.Nil(t, err)
}

func TestStatusTreatsRolledBackAsPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		migrator := sqledger.NewMigrator(reversibleChangelog(), dialect.SQLite{})
		migrator.Logger = logger
		_, err := migrator.Update(ctx, db)
		assert.Nil(t, err)
		_, err = migrator.RollbackCount(ctx, db, 1)
		assert.Nil(t, err)

		// A rolled back changeset needs applying again: it is pending, and
		// its rolled back ledger row is history, not an unmatched entry.
		report, err := migrator.Status(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, sqledger.StateApplied, report.Changesets[0].State)
		check.Equal(t, sqledger.StateApplied, report.Changesets[1].State)
		check.Equal(t, sqledger.StatePending, report.Changesets[2].State)
		check.Equal(t, nil, report.Unmatched)
		check.True(t, !report.UpToDate())
		return nil
	})
	assert.Nil(t, err)
}
