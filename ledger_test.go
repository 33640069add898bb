package sqledger_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/dialect"
)

// These tests drive the ledger against a mocked connection to reach the
// paths a healthy database never takes. The happy paths run against real
// databases in the migrator tests.

func TestListAppliedIsEmptyBeforeTheFirstRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	// The table existence probe says no; the ledger must not try to read
	// the missing table.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sqlite_master`).
		WithArgs(sqledger.DefaultTableName).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ledger := sqledger.NewLedger(dialect.SQLite{}, "")
	entries, err := ledger.ListApplied(ctx, db)
	check.Nil(t, err)
	check.Equal(t, nil, entries)
	check.Nil(t, mock.ExpectationsWereMet())
}

func TestListAppliedPropagatesProbeErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sqlite_master`).
		WillReturnError(fmt.Errorf("connection reset"))

	ledger := sqledger.NewLedger(dialect.SQLite{}, "")
	_, err = ledger.ListApplied(ctx, db)
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "connection reset"))
}

func TestEnsureRunsEveryStatement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	// SQLite's ledger DDL is a table plus a partial unique index; Ensure
	// must run both, in order.
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "sqledger_changelog"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ledger := sqledger.NewLedger(dialect.SQLite{}, "")
	check.Nil(t, ledger.Ensure(ctx, db))
	check.Nil(t, mock.ExpectationsWereMet())
}

func TestRecordAppliedRefusesASecondAppliedEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	// The pre-insert check finds an applied row; no INSERT is attempted.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "sqledger_changelog"`).
		WithArgs("0001_create_users", "ana", "applied").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ledger := sqledger.NewLedger(dialect.SQLite{}, "")
	err = ledger.RecordApplied(ctx, db, sqledger.LedgerEntry{
		ID:     "0001_create_users",
		Author: "ana",
	})
	var dup *sqledger.DuplicateApplicationError
	assert.True(t, errors.As(err, &dup))
	check.Equal(t, "0001_create_users", dup.ID)
	check.Equal(t, "ana", dup.Author)
	check.Nil(t, mock.ExpectationsWereMet())
}

func TestRecordAppliedMapsConstraintViolations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	// A racing writer slipped in between the check and the insert; the
	// driver's unique violation is classified as a duplicate application.
	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	ledger := sqledger.NewLedger(dialect.MySQL{}, "")
	err = ledger.RecordApplied(ctx, db, sqledger.LedgerEntry{
		ID:     "0001_create_users",
		Author: "ana",
	})
	var dup *sqledger.DuplicateApplicationError
	assert.True(t, errors.As(err, &dup))
	check.Nil(t, mock.ExpectationsWereMet())
}

func TestRecordRolledBackNeedsAnAppliedRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE "sqledger_changelog" SET status =`).
		WithArgs("rolled_back", sqlmock.AnyArg(), "ops", "0001_create_users", "ana", "applied").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ledger := sqledger.NewLedger(dialect.SQLite{}, "")
	err = ledger.RecordRolledBack(ctx, db, "0001_create_users", "ana", "ops", time.Now())
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "no applied entry found"))
	check.Nil(t, mock.ExpectationsWereMet())
}

func TestUpdateChecksumNeedsAnAppliedRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE "sqledger_changelog" SET checksum =`).
		WithArgs("f00df00d", "0001_create_users", "ana", "applied").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ledger := sqledger.NewLedger(dialect.SQLite{}, "")
	err = ledger.UpdateChecksum(ctx, db, "0001_create_users", "ana", "f00df00d")
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "no applied entry found"))
	check.Nil(t, mock.ExpectationsWereMet())
}

func TestNewLedgerDefaultsTheTableName(t *testing.T) {
	t.Parallel()
	check.Equal(t, sqledger.DefaultTableName, sqledger.NewLedger(dialect.SQLite{}, "").TableName)
	check.Equal(t, "public."+sqledger.DefaultTableName, sqledger.NewLedger(dialect.Postgres{}, "").TableName)
	check.Equal(t, "audit.history", sqledger.NewLedger(dialect.SQLite{}, "audit.history").TableName)
}
