package sqledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// RollbackCount reverses the most recent count applied changesets, newest
// first. Asking for more than are applied is refused before anything runs.
//
// Rollback never derives an inverse: each target changeset must still be
// present in the changelog with a non-empty revert body, and its stored
// checksum must still match its current body. The whole selection is checked
// up front; a changeset that cannot be reversed fails the call with a
// [*NoRollbackDefinedError] (or [*ChecksumDriftError]) before any schema
// change happens.
//
// Each reversal then runs in its own transaction: execute the revert body,
// flip the ledger entry to rolled_back, commit. A failure halts the run,
// leaving earlier reversals in place, exactly like a failed Update. The
// ledger keeps the rolled back rows as history; re-applying later creates
// new entries with fresh execution orders.
//
// RollbackCount holds the same advisory lock as [Migrator.Update].
func (m *Migrator) RollbackCount(ctx context.Context, db *sql.DB, count int) (*RunReport, error) {
	return m.rollback(ctx, db, func(applied []LedgerEntry) ([]LedgerEntry, error) {
		if count < 0 {
			return nil, fmt.Errorf("rollback count %d is negative", count)
		}
		if count > len(applied) {
			return nil, fmt.Errorf("cannot roll back %d changesets: only %d applied", count, len(applied))
		}
		return applied[len(applied)-count:], nil
	})
}

// RollbackTo reverses every changeset applied strictly after (id, author),
// newest first, leaving the named changeset itself applied. The named
// changeset must have an applied ledger entry.
//
// Selection and per-changeset mechanics are the same as [Migrator.RollbackCount].
func (m *Migrator) RollbackTo(ctx context.Context, db *sql.DB, id, author string) (*RunReport, error) {
	return m.rollback(ctx, db, func(applied []LedgerEntry) ([]LedgerEntry, error) {
		for i := range applied {
			if applied[i].ID == id && applied[i].Author == author {
				return applied[i+1:], nil
			}
		}
		return nil, fmt.Errorf("changeset %s has no applied entry to roll back to", changesetKey(id, author))
	})
}

// reversal pairs a ledger entry with the changelog changeset that reverses
// it.
type reversal struct {
	entry     LedgerEntry
	changeset *Changeset
}

// rollback is the shared engine behind RollbackCount and RollbackTo. The
// selection callback receives the applied entries in execution order and
// returns the suffix to reverse, still in execution order.
func (m *Migrator) rollback(ctx context.Context, db *sql.DB, selectTargets func([]LedgerEntry) ([]LedgerEntry, error)) (*RunReport, error) {
	report := &RunReport{State: RunIdle, RunID: uuid.NewString()}
	err := m.withLock(ctx, db, func(conn *sql.Conn) error {
		m.transition(ctx, report, RunPlanning)
		applied, err := m.Ledger.ListApplied(ctx, conn)
		if err != nil {
			return err
		}
		targets, err := selectTargets(applied)
		if err != nil {
			return err
		}
		work := make([]reversal, 0, len(targets))
		for _, entry := range targets {
			cs := m.Changelog.Find(entry.ID, entry.Author)
			if cs == nil || !cs.HasRollback() {
				return &NoRollbackDefinedError{ID: entry.ID, Author: entry.Author}
			}
			computed := cs.Checksum(m.Normalization)
			if CompareChecksums(entry.Checksum, computed) == ChecksumMismatch {
				return &ChecksumDriftError{
					ID:       entry.ID,
					Author:   entry.Author,
					Stored:   entry.Checksum,
					Computed: computed,
				}
			}
			work = append(work, reversal{entry: entry, changeset: cs})
		}
		m.info(ctx, fmt.Sprintf("planning to roll back %d changesets", len(work)))
		m.transition(ctx, report, RunApplying)
		// Reversals run newest-first.
		slices.Reverse(work)
		for _, rev := range work {
			record, err := m.revertChangeset(ctx, conn, rev.changeset, rev.entry)
			if record != nil {
				report.Records = append(report.Records, *record)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		report.State = RunFailed
		return report, err
	}
	m.transition(ctx, report, RunCompleted)
	return report, nil
}

// revertChangeset reverses a single applied changeset:
//   - BEGIN;
//   - execute the revert body
//   - flip the ledger entry to rolled_back
//   - COMMIT;
func (m *Migrator) revertChangeset(ctx context.Context, db txBeginner, cs *Changeset, entry LedgerEntry) (*ExecutionRecord, error) {
	startedAt := time.Now().UTC()
	fields := []LogField{
		{Key: "changeset", Value: cs.Key()},
		{Key: "execution_order", Value: entry.ExecutionOrder},
		{Key: "started_at", Value: startedAt},
	}
	m.info(ctx, "rolling back changeset", fields...)
	record := &ExecutionRecord{Changeset: cs.Key(), ExecutionOrder: entry.ExecutionOrder}
	record.Err = m.inTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, cs.Revert)
		finishedAt := time.Now().UTC()
		record.Duration = finishedAt.Sub(startedAt)
		fields = append(fields,
			LogField{Key: "execution_time_ms", Value: record.Duration.Milliseconds()},
			LogField{Key: "finished_at", Value: finishedAt},
		)
		if err != nil {
			msg := "failed to roll back changeset"
			fields = append(fields, m.Ledger.Dialect.ErrorData(err)...)
			m.error(ctx, err, msg, fields...)
			return &ExecutionError{ID: cs.ID, Author: cs.Author, Phase: "revert", Err: err}
		}
		m.info(ctx, "rollback succeeded", fields...)
		err = m.Ledger.RecordRolledBack(ctx, tx, cs.ID, cs.Author, m.principal(), finishedAt)
		if err != nil {
			msg := "failed to mark changeset as rolled back"
			m.error(ctx, err, msg, fields...)
			return &ExecutionError{ID: cs.ID, Author: cs.Author, Phase: "record", Err: err}
		}
		m.info(ctx, "marked as rolled back", fields...)
		return nil
	})
	return record, record.Err
}
