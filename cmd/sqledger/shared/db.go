package shared

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/dialect"
)

// Dialect resolves the target dialect from --dialect, or infers it from the
// shape of the database connection string when the flag is unset.
func Dialect() (sqledger.Dialect, error) {
	name := State.DialectName()
	if name.IsSet() {
		return dialect.FromName(name.Value())
	}
	dbVar := State.Database()
	if err := Validate(dbVar); err != nil {
		return nil, err
	}
	inferred, err := inferDialect(dbVar.Value())
	if err != nil {
		return nil, err
	}
	return dialect.FromName(inferred)
}

func inferDialect(connstr string) (string, error) {
	switch {
	case strings.HasPrefix(connstr, "postgres://"),
		strings.HasPrefix(connstr, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(connstr, "file:"),
		strings.HasSuffix(connstr, ".db"),
		strings.HasSuffix(connstr, ".sqlite"),
		strings.HasSuffix(connstr, ".sqlite3"),
		connstr == ":memory:":
		return "sqlite", nil
	}
	if _, err := mysql.ParseDSN(connstr); err == nil {
		return "mysql", nil
	}
	return "", fmt.Errorf("cannot infer dialect from database %q, pass --dialect", connstr)
}

// OpenDB opens the configured database with the driver matching the resolved
// dialect, applying per-driver connection string hygiene first.
func OpenDB() (*sql.DB, sqledger.Dialect, error) {
	dbVar := State.Database()
	if err := Validate(dbVar); err != nil {
		return nil, nil, err
	}
	d, err := Dialect()
	if err != nil {
		return nil, nil, err
	}
	connstr := dbVar.Value()
	switch d.Name() {
	case "postgres":
		connstr, err = setDefaultStatementCachingParameter(connstr)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("pgx", connstr)
		return db, d, err
	case "sqlite":
		db, err := sql.Open("sqlite", sqliteDSN(connstr))
		return db, d, err
	case "mysql":
		connstr, err = mysqlDSN(connstr)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("mysql", connstr)
		return db, d, err
	}
	return nil, nil, fmt.Errorf("no driver wired for dialect %q", d.Name())
}

// If the user has not explicitly specified a pgx statement caching parameter
// in their connection string, set it to "exec", which will work correctly
// even when connecting to bouncers/poolers like Pgbouncer. If we don't do
// this, the default value pgx chooses is "cache_statement", which BREAKS when
// you connect to a pooler.
func setDefaultStatementCachingParameter(connstr string) (string, error) {
	eurl, err := url.Parse(connstr)
	if err != nil {
		return "", fmt.Errorf("failed to parse 'database' URL: %w", err)
	}
	query := eurl.Query()
	// hardcoded query parameter name comes from the pgx code:
	// https://github.com/jackc/pgx/blob/672c4a3a24849b1f34857817e6ed76f6581bbe90/conn.go#L191
	queryModeParam := "default_query_exec_mode"
	// hardcoded value "exec" comes from the pgx code:
	// https://github.com/jackc/pgx/blob/fd0c65478e18be837b77c7ef24d7220f50540d49/conn.go#L200
	execModeValue := "exec"
	if !query.Has(queryModeParam) {
		// The meaning is described by the documentation:
		// https://pkg.go.dev/github.com/jackc/pgx/v5#QueryExecMode
		query.Add(queryModeParam, execModeValue)
	}
	eurl.RawQuery = query.Encode()
	return eurl.String(), nil
}

// sqliteDSN adds the busy_timeout and WAL pragmas that make a file database
// behave under concurrent connections, unless the caller set any pragma
// themselves.
func sqliteDSN(connstr string) string {
	if connstr == ":memory:" || strings.Contains(connstr, "_pragma=") {
		return connstr
	}
	sep := "?"
	if strings.Contains(connstr, "?") {
		sep = "&"
	}
	return connstr + sep + "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

// mysqlDSN normalizes a go-sql-driver DSN so that timestamps scan as
// time.Time and multi-statement changeset bodies execute in one call.
func mysqlDSN(connstr string) (string, error) {
	cfg, err := mysql.ParseDSN(connstr)
	if err != nil {
		return "", fmt.Errorf("failed to parse 'database' DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN(), nil
}
