// Package dialect implements the engine's database capability interface for
// Postgres, SQLite, and MySQL. Everything vendor-specific lives here: ledger
// DDL, placeholder styles, advisory locking, and driver error
// classification.
package dialect

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/sqledger/sqledger"
)

// FromName returns the dialect registered under name. Recognized names are
// "postgres" (aliases "postgresql", "pg"), "sqlite" (alias "sqlite3"), and
// "mysql" (alias "mariadb").
func FromName(name string) (sqledger.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q: expected postgres, sqlite, or mysql", name)
}

// ParseTableName splits a possibly schema-qualified table name into its
// schema and table parts. An unqualified name comes back with an empty
// schema.
func ParseTableName(name string) (schema, table string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// lockKey consistently hashes a lock name to an integer usable with
// pg_advisory_lock() and friends.
func lockKey(name string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(name)))
}

// rebindDollar rewrites `?` placeholders as $1..$N for dialects that use
// numbered placeholders. Ledger queries never contain a literal question
// mark, so no quote tracking is needed.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// quoteParts quotes each dot-separated part of an identifier with the given
// quote character, doubling any embedded quote characters.
func quoteParts(name string, quote byte) string {
	parts := strings.Split(name, ".")
	q := string(quote)
	for i, part := range parts {
		parts[i] = q + strings.ReplaceAll(part, q, q+q) + q
	}
	return strings.Join(parts, ".")
}
