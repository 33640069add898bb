package sqledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EntryStatus is the lifecycle state of a ledger row. Rows are never deleted
// by normal operations; they only move from applied to rolled_back.
type EntryStatus string

const (
	StatusApplied    EntryStatus = "applied"
	StatusRolledBack EntryStatus = "rolled_back"
)

// LedgerEntry is one recorded application of a changeset. At most one entry
// per (ID, Author) is in status applied at any time; rolled back entries are
// kept as history, so a changeset that was applied, rolled back, and applied
// again has multiple rows.
type LedgerEntry struct {
	ID       string
	Author   string
	Checksum string
	// ExecutionOrder is assigned from a monotonic counter at apply time and
	// is strictly increasing across the life of the ledger, including across
	// rollback and re-apply cycles.
	ExecutionOrder int64
	AppliedAt      time.Time
	AppliedBy      string
	// ExecutionTimeInMillis is how long the changeset's body took to run.
	ExecutionTimeInMillis int64
	// RunID groups the entries recorded by a single engine run.
	RunID        string
	Status       EntryStatus
	RolledBackAt *time.Time
	RolledBackBy *string
}

// Key renders the entry's changeset identity as "id::author".
func (e *LedgerEntry) Key() string {
	return changesetKey(e.ID, e.Author)
}

// Ledger owns the table that records which changesets have been applied.
// All reads and writes of that table go through this type; the executor and
// rollback engine never touch it directly.
type Ledger struct {
	Dialect   Dialect
	TableName string
}

// NewLedger returns a Ledger over the given table, or the dialect's default
// table when name is empty.
func NewLedger(d Dialect, tableName string) *Ledger {
	if tableName == "" {
		tableName = d.DefaultLedgerTable()
	}
	return &Ledger{Dialect: d, TableName: tableName}
}

const entryColumns = `id, author, checksum, execution_order, applied_at, applied_by, execution_time_in_millis, run_id, status, rolled_back_at, rolled_back_by`

// Ensure creates the ledger table and its indexes if they do not exist. It
// is idempotent and safe to call on every run.
func (l *Ledger) Ensure(ctx context.Context, db Executor) error {
	for _, stmt := range l.Dialect.CreateLedgerSQL(l.TableName) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger table %s: %w", l.TableName, err)
		}
	}
	return nil
}

// ListApplied returns the entries currently in status applied, ordered by
// execution order. If the ledger table does not exist yet the result is
// empty: a database the engine has never touched has no applied changesets.
func (l *Ledger) ListApplied(ctx context.Context, db Executor) ([]LedgerEntry, error) {
	exists, err := l.Dialect.HasTable(ctx, db, l.TableName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	query := l.Dialect.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE status = ? ORDER BY execution_order`,
		entryColumns, l.quotedTable(),
	))
	rows, err := db.QueryContext(ctx, query, string(StatusApplied))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// History returns every ledger row regardless of status, ordered by
// execution order. Rolled back rows appear alongside applied ones.
func (l *Ledger) History(ctx context.Context, db Executor) ([]LedgerEntry, error) {
	exists, err := l.Dialect.HasTable(ctx, db, l.TableName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY execution_order`, entryColumns, l.quotedTable())
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// NextExecutionOrder returns the order value the next applied entry should
// receive. Rolled back rows still count: order values are never reused.
func (l *Ledger) NextExecutionOrder(ctx context.Context, db Executor) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(execution_order), 0) + 1 FROM %s`, l.quotedTable())
	var next int64
	if err := db.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// RecordApplied inserts an applied entry inside the caller's transaction.
// If an applied entry for the same changeset already exists the insert is
// refused with a [*DuplicateApplicationError]; the unique index that backs
// this on capable dialects is belt and braces, the check here is
// authoritative because the caller holds the advisory lock.
func (l *Ledger) RecordApplied(ctx context.Context, tx Executor, entry LedgerEntry) error {
	existing := l.Dialect.Rebind(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE id = ? AND author = ? AND status = ?`,
		l.quotedTable(),
	))
	var n int64
	if err := tx.QueryRowContext(ctx, existing, entry.ID, entry.Author, string(StatusApplied)).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return &DuplicateApplicationError{ID: entry.ID, Author: entry.Author}
	}
	insert := l.Dialect.Rebind(fmt.Sprintf(
		`INSERT INTO %s (id, author, checksum, execution_order, applied_at, applied_by, execution_time_in_millis, run_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.quotedTable(),
	))
	_, err := tx.ExecContext(ctx, insert,
		entry.ID,
		entry.Author,
		entry.Checksum,
		entry.ExecutionOrder,
		entry.AppliedAt.UTC(),
		entry.AppliedBy,
		entry.ExecutionTimeInMillis,
		entry.RunID,
		string(StatusApplied),
	)
	if err != nil {
		if l.Dialect.IsDuplicateEntry(err) {
			return &DuplicateApplicationError{ID: entry.ID, Author: entry.Author}
		}
		return fmt.Errorf("record applied %s: %w", entry.Key(), err)
	}
	return nil
}

// RecordRolledBack flips the applied entry for (id, author) to rolled_back,
// stamping who reversed it and when. The applied row must exist.
func (l *Ledger) RecordRolledBack(ctx context.Context, tx Executor, id, author, principal string, at time.Time) error {
	update := l.Dialect.Rebind(fmt.Sprintf(
		`UPDATE %s SET status = ?, rolled_back_at = ?, rolled_back_by = ?
		WHERE id = ? AND author = ? AND status = ?`,
		l.quotedTable(),
	))
	res, err := tx.ExecContext(ctx, update,
		string(StatusRolledBack), at.UTC(), principal,
		id, author, string(StatusApplied),
	)
	if err != nil {
		return fmt.Errorf("record rolled back %s: %w", changesetKey(id, author), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("record rolled back %s: no applied entry found", changesetKey(id, author))
	}
	return nil
}

// UpdateChecksum overwrites the stored checksum of the applied entry for
// (id, author). Used by checksum rebaselining, never by normal runs.
func (l *Ledger) UpdateChecksum(ctx context.Context, db Executor, id, author, checksum string) error {
	update := l.Dialect.Rebind(fmt.Sprintf(
		`UPDATE %s SET checksum = ? WHERE id = ? AND author = ? AND status = ?`,
		l.quotedTable(),
	))
	res, err := db.ExecContext(ctx, update, checksum, id, author, string(StatusApplied))
	if err != nil {
		return fmt.Errorf("update checksum %s: %w", changesetKey(id, author), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update checksum %s: no applied entry found", changesetKey(id, author))
	}
	return nil
}

func (l *Ledger) quotedTable() string {
	return l.Dialect.QuoteIdentifier(l.TableName)
}

func scanEntries(rows *sql.Rows) ([]LedgerEntry, error) {
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var (
			e            LedgerEntry
			status       string
			rolledBackAt sql.NullTime
			rolledBackBy sql.NullString
		)
		err := rows.Scan(
			&e.ID,
			&e.Author,
			&e.Checksum,
			&e.ExecutionOrder,
			&e.AppliedAt,
			&e.AppliedBy,
			&e.ExecutionTimeInMillis,
			&e.RunID,
			&status,
			&rolledBackAt,
			&rolledBackBy,
		)
		if err != nil {
			return nil, err
		}
		// Some drivers scan timestamps in local time; normalize so callers
		// can compare entries from different connections.
		e.AppliedAt = e.AppliedAt.UTC()
		e.Status = EntryStatus(status)
		if rolledBackAt.Valid {
			t := rolledBackAt.Time.UTC()
			e.RolledBackAt = &t
		}
		if rolledBackBy.Valid {
			s := rolledBackBy.String
			e.RolledBackBy = &s
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
