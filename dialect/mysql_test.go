package dialect_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/peterldowns/testy/check"

	"github.com/sqledger/sqledger/dialect"
)

func TestMySQLIdentity(t *testing.T) {
	t.Parallel()
	d := dialect.MySQL{}
	check.Equal(t, "mysql", d.Name())
	check.Equal(t, "sqledger_changelog", d.DefaultLedgerTable())
	// MySQL commits DDL implicitly; the executor warns before each
	// changeset because a failure cannot be rolled back.
	check.True(t, !d.TransactionalDDL())
}

func TestMySQLQuoteIdentifier(t *testing.T) {
	t.Parallel()
	d := dialect.MySQL{}
	check.Equal(t, "`sqledger_changelog`", d.QuoteIdentifier("sqledger_changelog"))
	check.Equal(t, "`audit`.`history`", d.QuoteIdentifier("audit.history"))
}

func TestMySQLRebindIsTheIdentity(t *testing.T) {
	t.Parallel()
	d := dialect.MySQL{}
	query := "SELECT 1 FROM t WHERE id = ? AND author = ?"
	check.Equal(t, query, d.Rebind(query))
}

func TestMySQLCreateLedgerSQL(t *testing.T) {
	t.Parallel()
	d := dialect.MySQL{}
	stmts := d.CreateLedgerSQL("sqledger_changelog")
	check.Equal(t, 1, len(stmts))
	check.True(t, strings.Contains(stmts[0], "CREATE TABLE IF NOT EXISTS `sqledger_changelog`"))
	// No partial indexes in MySQL: the at-most-one-applied invariant rests
	// on the ledger's pre-insert check under the advisory lock.
	check.True(t, !strings.Contains(stmts[0], "UNIQUE"))
}

func TestMySQLClassifiesDriverErrors(t *testing.T) {
	t.Parallel()
	d := dialect.MySQL{}

	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '0001-ana' for key 'sqledger_changelog_key_idx'"}
	check.True(t, d.IsDuplicateEntry(dup))
	check.True(t, d.IsDuplicateEntry(fmt.Errorf("insert: %w", dup)))
	check.True(t, !d.IsDuplicateEntry(&mysql.MySQLError{Number: 1146}))
	check.True(t, !d.IsDuplicateEntry(fmt.Errorf("plain error")))

	check.Equal(t, nil, d.ErrorData(fmt.Errorf("plain error")))
	fields := d.ErrorData(dup)
	check.Equal(t, 2, len(fields))
	check.Equal(t, "mysql_errno", fields[0].Key)
	errno, ok := fields[0].Value.(uint16)
	check.True(t, ok)
	check.Equal(t, uint16(1062), errno)
}
