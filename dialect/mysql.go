package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/sqledger/sqledger"
)

// MySQL targets MySQL 8 and compatible servers via go-sql-driver/mysql.
// Advisory locking uses GET_LOCK. MySQL commits DDL implicitly, so
// TransactionalDDL is false: a failed changeset may leave partial schema
// changes behind, and the executor warns about this before each one.
//
// MySQL also has no partial unique indexes, so the at-most-one-applied
// invariant rests entirely on the ledger's pre-insert check, which is safe
// because every writer holds the advisory lock.
//
// Open the *sql.DB with parseTime=true (for scanning timestamps) and
// multiStatements=true (for changesets with more than one statement).
type MySQL struct{}

var _ sqledger.Dialect = MySQL{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) DefaultLedgerTable() string { return sqledger.DefaultTableName }

func (MySQL) QuoteIdentifier(name string) string { return quoteParts(name, '`') }

// Rebind is the identity: MySQL understands `?` natively.
func (MySQL) Rebind(query string) string { return query }

func (d MySQL) CreateLedgerSQL(table string) []string {
	_, bare := ParseTableName(table)
	return []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(191) NOT NULL,
			author VARCHAR(191) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			execution_order BIGINT NOT NULL PRIMARY KEY,
			applied_at DATETIME(6) NOT NULL,
			applied_by VARCHAR(191) NOT NULL,
			execution_time_in_millis BIGINT NOT NULL,
			run_id VARCHAR(36) NOT NULL,
			status VARCHAR(16) NOT NULL,
			rolled_back_at DATETIME(6) NULL,
			rolled_back_by VARCHAR(191) NULL,
			INDEX %s (id, author, status)
		)
	`, d.QuoteIdentifier(table), d.QuoteIdentifier(bare+"_key_idx"))}
}

func (MySQL) HasTable(ctx context.Context, db sqledger.Executor, table string) (bool, error) {
	_, bare := ParseTableName(table)
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`,
		bare,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has table %s: %w", table, err)
	}
	return n > 0, nil
}

func (MySQL) TransactionalDDL() bool { return false }

func (MySQL) IsDuplicateEntry(err error) bool {
	var merr *mysql.MySQLError
	// 1062: ER_DUP_ENTRY
	return errors.As(err, &merr) && merr.Number == 1062
}

func (MySQL) ErrorData(err error) []sqledger.LogField {
	var merr *mysql.MySQLError
	if !errors.As(err, &merr) {
		return nil
	}
	return []sqledger.LogField{
		{Key: "mysql_errno", Value: merr.Number},
		{Key: "mysql_message", Value: merr.Message},
	}
}

func (MySQL) TryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	// Timeout 0 makes GET_LOCK a non-blocking attempt. It returns 1 when
	// acquired, 0 on contention, NULL on error.
	var got sql.NullInt64
	err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, mysqlLockName(name)).Scan(&got)
	if err != nil {
		return false, err
	}
	return got.Valid && got.Int64 == 1, nil
}

func (MySQL) Unlock(ctx context.Context, conn *sql.Conn, name string) error {
	_, err := conn.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, mysqlLockName(name))
	return err
}

func (MySQL) ForceUnlock(context.Context, sqledger.Executor, string) error {
	// GET_LOCK locks belong to a session and are released when it ends.
	// Nothing to do.
	return nil
}

// mysqlLockName fits a lock name into the 64 character limit GET_LOCK has
// imposed since MySQL 5.7, hashing names that are too long.
func mysqlLockName(name string) string {
	if len(name) <= 64 {
		return name
	}
	return fmt.Sprintf("sqledger-%08x", uint32(lockKey(name)))
}
