package sqledger_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/dialect"
	"github.com/sqledger/sqledger/internal/changelogs"
	"github.com/sqledger/sqledger/internal/withdb"
)

// Exercises the package level helpers end to end against the embedded
// example changelog: plan, apply, verify, reverse, re-apply.
func TestPackageHelpers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := sqledger.NewTestLogger(t)
	d := dialect.SQLite{}
	err := withdb.WithDB(ctx, func(db *sql.DB) error {
		expected := []string{
			"0001_create_users::ana",
			"0002_index_users::ana",
			"0001_create_sessions::omar",
		}

		plan, err := sqledger.Plan(ctx, db, d, changelogs.FS, "changelog.yaml", logger)
		assert.Nil(t, err)
		keys := make([]string, 0, len(plan))
		for i := range plan {
			keys = append(keys, plan[i].Key())
		}
		check.Equal(t, expected, keys)

		report, err := sqledger.Update(ctx, db, d, changelogs.FS, "changelog.yaml", logger)
		assert.Nil(t, err)
		check.Equal(t, sqledger.RunCompleted, report.State)
		check.Equal(t, expected, recordKeys(report.Records))

		status, err := sqledger.Status(ctx, db, d, changelogs.FS, "changelog.yaml", logger)
		assert.Nil(t, err)
		check.True(t, status.UpToDate())
		check.Equal(t, 3, status.Count(sqledger.StateApplied))

		warnings, err := sqledger.Validate(ctx, db, d, changelogs.FS, "changelog.yaml", logger)
		assert.Nil(t, err)
		check.Equal(t, nil, warnings)

		// Every changeset in the example defines its inverse, so the whole
		// run can be reversed and applied again.
		report, err = sqledger.RollbackCount(ctx, db, d, changelogs.FS, "changelog.yaml", 3, logger)
		assert.Nil(t, err)
		check.Equal(t, []string{
			"0001_create_sessions::omar",
			"0002_index_users::ana",
			"0001_create_users::ana",
		}, recordKeys(report.Records))

		exists, err := d.HasTable(ctx, db, "users")
		assert.Nil(t, err)
		check.True(t, !exists)

		report, err = sqledger.Update(ctx, db, d, changelogs.FS, "changelog.yaml", logger)
		assert.Nil(t, err)
		check.Equal(t, expected, recordKeys(report.Records))

		history, err := sqledger.History(ctx, db, d, logger)
		assert.Nil(t, err)
		assert.Equal(t, 6, len(history))
		check.Equal(t, 3, countByStatus(history, sqledger.StatusRolledBack))
		check.Equal(t, 3, countByStatus(history, sqledger.StatusApplied))
		// Execution orders are never reused, even across rollback and
		// re-apply cycles.
		for i, entry := range history {
			check.Equal(t, int64(i+1), entry.ExecutionOrder)
		}
		return nil
	})
	assert.Nil(t, err)
}

func countByStatus(entries []sqledger.LedgerEntry, status sqledger.EntryStatus) int {
	n := 0
	for i := range entries {
		if entries[i].Status == status {
			n++
		}
	}
	return n
}
