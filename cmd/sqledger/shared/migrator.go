package shared

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sqledger/sqledger"
)

// NewMigrator loads the configured changelog and returns a migrator wired
// with the resolved dialect, ledger table, principal, lock timeout, and
// logger.
func NewMigrator(d sqledger.Dialect, logger sqledger.Logger) (*sqledger.Migrator, error) {
	changelogVar := State.Changelog()
	if err := Validate(changelogVar); err != nil {
		return nil, err
	}
	fsys, path := ChangelogFS(changelogVar.Value())
	changelog, err := sqledger.LoadChangelog(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("load changelog: %w", err)
	}
	m := NewLedgerMigrator(d, logger)
	m.Changelog = changelog
	return m, nil
}

// NewLedgerMigrator returns a migrator with no changelog, for commands that
// only read or repair the ledger and do not care what the changelog says.
func NewLedgerMigrator(d sqledger.Dialect, logger sqledger.Logger) *sqledger.Migrator {
	m := sqledger.NewMigrator(nil, d)
	m.Logger = logger
	m.Ledger = sqledger.NewLedger(d, State.TableName().Value())
	m.Principal = State.AppliedBy().Value()
	m.LockTimeout = State.LockTimeout().Value()
	return m
}

// ChangelogFS splits a filesystem path into the fs.FS and the sub-path that
// [sqledger.LoadChangelog] expects. Relative paths are rooted at the current
// directory rather than the changelog's own directory so that includes can
// reference sibling directories.
func ChangelogFS(p string) (fs.FS, string) {
	p = filepath.ToSlash(filepath.Clean(p))
	if strings.HasPrefix(p, "/") {
		return os.DirFS("/"), strings.TrimPrefix(p, "/")
	}
	return os.DirFS("."), p
}
