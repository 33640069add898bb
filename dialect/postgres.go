package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/sqledger/sqledger"
)

// Postgres targets PostgreSQL. Advisory locking uses session scoped
// pg_try_advisory_lock, DDL rolls back with its transaction, and the
// ledger's at-most-one-applied invariant is additionally backed by a partial
// unique index.
//
// Open the *sql.DB with the pgx stdlib driver
// ("github.com/jackc/pgx/v5/stdlib", driver name "pgx") or with lib/pq.
type Postgres struct{}

var _ sqledger.Dialect = Postgres{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) DefaultLedgerTable() string { return "public." + sqledger.DefaultTableName }

func (Postgres) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

func (Postgres) Rebind(query string) string { return rebindDollar(query) }

func (d Postgres) CreateLedgerSQL(table string) []string {
	schema, bare := ParseTableName(table)
	var stmts []string
	if schema != "" {
		stmts = append(stmts, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(schema)))
	}
	stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			author TEXT NOT NULL,
			checksum TEXT NOT NULL,
			execution_order BIGINT NOT NULL PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL,
			applied_by TEXT NOT NULL,
			execution_time_in_millis BIGINT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			rolled_back_at TIMESTAMPTZ,
			rolled_back_by TEXT
		)
	`, d.QuoteIdentifier(table)))
	stmts = append(stmts, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (id, author) WHERE status = %s`,
		pq.QuoteIdentifier(bare+"_applied_idx"),
		d.QuoteIdentifier(table),
		pq.QuoteLiteral(string(sqledger.StatusApplied)),
	))
	return stmts
}

func (Postgres) HasTable(ctx context.Context, db sqledger.Executor, table string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has table %s: %w", table, err)
	}
	return exists, nil
}

func (Postgres) TransactionalDDL() bool { return true }

func (Postgres) IsDuplicateEntry(err error) bool {
	var perr *pgconn.PgError
	return errors.As(err, &perr) && perr.Code == "23505"
}

// ErrorData returns as much server-side detail as possible when err came
// from Postgres, for logging purposes.
func (Postgres) ErrorData(err error) []sqledger.LogField {
	var perr *pgconn.PgError
	if !errors.As(err, &perr) {
		return nil
	}
	fields := []sqledger.LogField{{Key: "pg_code", Value: perr.Code}}
	if perr.Detail != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_detail", Value: perr.Detail})
	}
	if perr.Hint != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_hint", Value: perr.Hint})
	}
	if perr.SchemaName != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_schema", Value: perr.SchemaName})
	}
	if perr.TableName != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_table", Value: perr.TableName})
	}
	if perr.ColumnName != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_column", Value: perr.ColumnName})
	}
	if perr.ConstraintName != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_constraint", Value: perr.ConstraintName})
	}
	if perr.Where != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_where", Value: perr.Where})
	}
	if perr.Severity != "" {
		fields = append(fields, sqledger.LogField{Key: "pg_severity", Value: perr.Severity})
	}
	return fields
}

func (Postgres) TryLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var locked bool
	err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey(name)).Scan(&locked)
	if err != nil {
		return false, err
	}
	return locked, nil
}

func (Postgres) Unlock(ctx context.Context, conn *sql.Conn, name string) error {
	_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockKey(name))
	return err
}

func (Postgres) ForceUnlock(context.Context, sqledger.Executor, string) error {
	// Session advisory locks cannot be released from another session; they
	// vanish when the holding session ends. Nothing to do.
	return nil
}
