package sqledger

import (
	"context"
	"database/sql"
	"io/fs"
)

// Update loads the changelog at path within fsys and applies every pending
// changeset to db. It is shorthand for [LoadChangelog] + [NewMigrator] +
// [Migrator.Update]; use a Migrator directly to configure the ledger table,
// checksum normalization, principal, or lock timeout.
func Update(ctx context.Context, db *sql.DB, d Dialect, fsys fs.FS, path string, logger Logger) (*RunReport, error) {
	changelog, err := LoadChangelog(fsys, path)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(changelog, d)
	migrator.Logger = logger
	return migrator.Update(ctx, db)
}

// Plan loads the changelog at path within fsys and reports which changesets
// would be applied by [Update], in order, without touching anything.
func Plan(ctx context.Context, db *sql.DB, d Dialect, fsys fs.FS, path string, logger Logger) ([]Changeset, error) {
	changelog, err := LoadChangelog(fsys, path)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(changelog, d)
	migrator.Logger = logger
	return migrator.Plan(ctx, db)
}

// Status loads the changelog at path within fsys and classifies every
// changeset against the ledger in db. Lock-free and read-only.
func Status(ctx context.Context, db *sql.DB, d Dialect, fsys fs.FS, path string, logger Logger) (*StatusReport, error) {
	changelog, err := LoadChangelog(fsys, path)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(changelog, d)
	migrator.Logger = logger
	return migrator.Status(ctx, db)
}

// Validate loads the changelog at path within fsys and checks it against the
// ledger in db: checksum drift fails, applied entries missing from the
// changelog come back as warnings.
func Validate(ctx context.Context, db *sql.DB, d Dialect, fsys fs.FS, path string, logger Logger) ([]Warning, error) {
	changelog, err := LoadChangelog(fsys, path)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(changelog, d)
	migrator.Logger = logger
	return migrator.Validate(ctx, db)
}

// RollbackCount loads the changelog at path within fsys and reverses the
// most recent count applied changesets.
func RollbackCount(ctx context.Context, db *sql.DB, d Dialect, fsys fs.FS, path string, count int, logger Logger) (*RunReport, error) {
	changelog, err := LoadChangelog(fsys, path)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(changelog, d)
	migrator.Logger = logger
	return migrator.RollbackCount(ctx, db, count)
}

// History returns every ledger row in db, applied and rolled back alike, in
// execution order. It needs no changelog.
func History(ctx context.Context, db *sql.DB, d Dialect, logger Logger) ([]LedgerEntry, error) {
	migrator := NewMigrator(nil, d)
	migrator.Logger = logger
	return migrator.Ledger.History(ctx, db)
}
