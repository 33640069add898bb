package sqledger

import (
	"context"
)

// ChangesetState classifies one changelog changeset against the ledger.
type ChangesetState string

const (
	// StateApplied: an applied ledger entry exists and its checksum matches
	// the current body.
	StateApplied ChangesetState = "applied"
	// StateDrifted: an applied ledger entry exists but the body has been
	// edited since it was applied.
	StateDrifted ChangesetState = "drifted"
	// StatePending: no applied ledger entry exists.
	StatePending ChangesetState = "pending"
)

// ChangesetStatus is the classification of a single changeset.
type ChangesetStatus struct {
	ID     string
	Author string
	State  ChangesetState
	// Entry is the applied ledger entry behind StateApplied or StateDrifted,
	// nil for StatePending.
	Entry *LedgerEntry
}

// Key renders the changeset identity as "id::author".
func (s *ChangesetStatus) Key() string {
	return changesetKey(s.ID, s.Author)
}

// StatusReport is a read-only diff of the changelog against the ledger.
type StatusReport struct {
	// Changesets has one classification per changelog changeset, in
	// declaration order.
	Changesets []ChangesetStatus
	// Unmatched holds applied ledger entries whose changesets no longer
	// appear in the changelog. They are warnings, not failures.
	Unmatched []LedgerEntry
}

// Count returns how many changesets are in the given state.
func (r *StatusReport) Count(state ChangesetState) int {
	n := 0
	for i := range r.Changesets {
		if r.Changesets[i].State == state {
			n++
		}
	}
	return n
}

// UpToDate reports whether the database fully reflects the changelog:
// nothing pending and nothing drifted. Unmatched entries do not count
// against it.
func (r *StatusReport) UpToDate() bool {
	return r.Count(StatePending) == 0 && r.Count(StateDrifted) == 0
}

// Status classifies every changelog changeset as applied, drifted, or
// pending, and collects applied ledger entries that are missing from the
// changelog. It takes no lock and writes nothing, so it is safe to call
// while another process is running [Migrator.Update]; the answer is simply a
// snapshot that may be stale by the time it returns.
func (m *Migrator) Status(ctx context.Context, db Executor) (*StatusReport, error) {
	applied, err := m.Ledger.ListApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	appliedByKey := make(map[string]LedgerEntry, len(applied))
	for _, entry := range applied {
		appliedByKey[entry.Key()] = entry
	}
	report := &StatusReport{}
	matched := make(map[string]bool, len(applied))
	changesets := m.changesets()
	for i := range changesets {
		cs := &changesets[i]
		status := ChangesetStatus{ID: cs.ID, Author: cs.Author, State: StatePending}
		if entry, ok := appliedByKey[cs.Key()]; ok {
			matched[cs.Key()] = true
			e := entry
			status.Entry = &e
			if CompareChecksums(entry.Checksum, cs.Checksum(m.Normalization)) == ChecksumMatch {
				status.State = StateApplied
			} else {
				status.State = StateDrifted
			}
		}
		report.Changesets = append(report.Changesets, status)
	}
	for _, entry := range applied {
		if !matched[entry.Key()] {
			report.Unmatched = append(report.Unmatched, entry)
		}
	}
	return report, nil
}
