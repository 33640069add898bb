package sqledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// MarkApplied (⚠️ danger) is a manual operation that records changesets as
// applied without running them. It exists for adopting databases whose
// schema was created outside the engine: record what is already true, then
// let Update handle everything new.
//
// You should NOT use this as part of normal operations, it exists to help
// devops/db-admin/sres interact with ledger state.
//
// Changesets are named by "id::author" keys. Keys that are unknown to the
// changelog or already applied are skipped with a warning. It returns the
// [LedgerEntry] rows it created.
func (m *Migrator) MarkApplied(ctx context.Context, db *sql.DB, keys ...string) ([]LedgerEntry, error) {
	var marked []LedgerEntry
	err := m.withLock(ctx, db, func(conn *sql.Conn) error {
		if err := m.Ledger.Ensure(ctx, conn); err != nil {
			return err
		}
		applied, err := m.Ledger.ListApplied(ctx, conn)
		if err != nil {
			return err
		}
		appliedByKey := map[string]LedgerEntry{}
		for _, entry := range applied {
			appliedByKey[entry.Key()] = entry
		}
		var targets []*Changeset
		for _, key := range keys {
			id, author, err := ParseKey(key)
			if err != nil {
				return err
			}
			if existing, ok := appliedByKey[key]; ok {
				m.warn(ctx, "skipping previously applied changeset",
					LogField{Key: "changeset", Value: existing.Key()},
					LogField{Key: "checksum", Value: existing.Checksum},
					LogField{Key: "applied_at", Value: existing.AppliedAt},
				)
				continue
			}
			cs := m.Changelog.Find(id, author)
			if cs == nil {
				m.warn(ctx, "skipping unknown changeset",
					LogField{Key: "reason", Value: "not in the changelog"},
					LogField{Key: "changeset", Value: key},
				)
				continue
			}
			targets = append(targets, cs)
		}
		runID := uuid.NewString()
		return m.inTx(ctx, conn, func(tx *sql.Tx) error {
			for _, cs := range targets {
				order, err := m.Ledger.NextExecutionOrder(ctx, tx)
				if err != nil {
					return err
				}
				entry := LedgerEntry{
					ID:             cs.ID,
					Author:         cs.Author,
					Checksum:       cs.Checksum(m.Normalization),
					ExecutionOrder: order,
					AppliedAt:      time.Now().UTC(),
					AppliedBy:      m.principal(),
					RunID:          runID,
					Status:         StatusApplied,
				}
				if err := m.Ledger.RecordApplied(ctx, tx, entry); err != nil {
					m.error(ctx, err, "failed to mark changeset as applied",
						LogField{Key: "changeset", Value: entry.Key()},
					)
					return err
				}
				marked = append(marked, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// ChecksumUpdate represents an update to a specific applied ledger entry.
// This struct is used instead of a `map[key]checksum` in order to apply
// multiple updates in a consistent order.
type ChecksumUpdate struct {
	ID          string
	Author      string
	NewChecksum string
}

// SetChecksums (⚠️ danger) is a manual operation that explicitly sets the
// recorded checksum of applied ledger entries.
//
// You should NOT use this as part of normal operations, it exists to help
// devops/db-admin/sres interact with ledger state.
//
// It returns the [LedgerEntry] rows whose checksums were changed.
func (m *Migrator) SetChecksums(ctx context.Context, db *sql.DB, updates ...ChecksumUpdate) ([]LedgerEntry, error) {
	var updated []LedgerEntry
	err := m.withLock(ctx, db, func(conn *sql.Conn) error {
		applied, err := m.Ledger.ListApplied(ctx, conn)
		if err != nil {
			return err
		}
		appliedByKey := map[string]LedgerEntry{}
		for _, entry := range applied {
			appliedByKey[entry.Key()] = entry
		}
		var toUpdate []LedgerEntry
		for _, update := range updates {
			key := changesetKey(update.ID, update.Author)
			entry, ok := appliedByKey[key]
			if !ok {
				m.warn(ctx, "skipping changeset",
					LogField{Key: "reason", Value: "no applied entry"},
					LogField{Key: "changeset", Value: key},
				)
				continue
			}
			if CompareChecksums(entry.Checksum, update.NewChecksum) == ChecksumMatch {
				m.info(ctx, "skipping changeset",
					LogField{Key: "reason", Value: "already has the desired checksum"},
					LogField{Key: "changeset", Value: key},
					LogField{Key: "checksum", Value: entry.Checksum},
				)
				continue
			}
			entry.Checksum = update.NewChecksum
			toUpdate = append(toUpdate, entry)
		}
		return m.inTx(ctx, conn, func(tx *sql.Tx) error {
			for _, entry := range toUpdate {
				err := m.Ledger.UpdateChecksum(ctx, tx, entry.ID, entry.Author, entry.Checksum)
				if err != nil {
					m.error(ctx, err, "failed to set checksum",
						LogField{Key: "changeset", Value: entry.Key()},
						LogField{Key: "checksum", Value: entry.Checksum},
					)
					return err
				}
				updated = append(updated, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecalculateChecksums (⚠️ danger) is a manual operation that recomputes the
// checksums of the named changesets from their current bodies and stores the
// results on their applied ledger entries.
//
// You should NOT use this as part of normal operations, it exists to help
// devops/db-admin/sres interact with ledger state.
func (m *Migrator) RecalculateChecksums(ctx context.Context, db *sql.DB, keys ...string) ([]LedgerEntry, error) {
	updates := make([]ChecksumUpdate, 0, len(keys))
	for _, key := range keys {
		id, author, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		cs := m.Changelog.Find(id, author)
		if cs == nil {
			m.warn(ctx, "skipping changeset",
				LogField{Key: "reason", Value: "not in the changelog"},
				LogField{Key: "changeset", Value: key},
			)
			continue
		}
		updates = append(updates, ChecksumUpdate{
			ID:          cs.ID,
			Author:      cs.Author,
			NewChecksum: cs.Checksum(m.Normalization),
		})
	}
	return m.SetChecksums(ctx, db, updates...)
}

// RebaselineChecksums (⚠️ danger) recomputes every applied entry's checksum
// from the current changelog bodies, accepting all edits as the new
// baseline. This is the deliberate recovery path for a
// [*ChecksumDriftError]: drift is never cleared automatically, someone has
// to run this and own the decision.
//
// You should NOT use this as part of normal operations, it exists to help
// devops/db-admin/sres interact with ledger state.
func (m *Migrator) RebaselineChecksums(ctx context.Context, db *sql.DB) ([]LedgerEntry, error) {
	changesets := m.changesets()
	updates := make([]ChecksumUpdate, 0, len(changesets))
	for i := range changesets {
		cs := &changesets[i]
		updates = append(updates, ChecksumUpdate{
			ID:          cs.ID,
			Author:      cs.Author,
			NewChecksum: cs.Checksum(m.Normalization),
		})
	}
	return m.SetChecksums(ctx, db, updates...)
}

// Unlock (⚠️ danger) force-releases the engine's advisory lock regardless of
// who holds it, for recovery after a crashed run. On dialects whose locks
// die with their session this is a no-op.
//
// You should NOT use this as part of normal operations, it exists to help
// devops/db-admin/sres interact with ledger state.
func (m *Migrator) Unlock(ctx context.Context, db Executor) error {
	name := lockPrefix + m.Ledger.TableName
	m.warn(ctx, "force-releasing advisory lock", LogField{Key: "lock", Value: name})
	return m.Ledger.Dialect.ForceUnlock(ctx, db, name)
}
