package sqledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/user"
	"time"

	"github.com/google/uuid"

	"github.com/sqledger/sqledger/internal/dblock"
	"github.com/sqledger/sqledger/internal/multierr"
)

const (
	// DefaultLockTimeout bounds how long a run waits to acquire the advisory
	// lock before giving up with a [*LockTimeoutError].
	DefaultLockTimeout = 30 * time.Second

	// lockPrefix namespaces the advisory lock so the engine does not collide
	// with other users of the same locking facility. The full lock name is
	// this prefix plus the ledger table name.
	lockPrefix = "sqledger-"
)

// RunState describes where an engine run is in its lifecycle. A run moves
// Idle -> Planning -> Applying -> Completed, or to Failed from wherever the
// first error happened.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunPlanning  RunState = "planning"
	RunApplying  RunState = "applying"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// ExecutionRecord is the transient outcome of one changeset within a run. It
// is returned to the caller and never persisted; durable provenance lives in
// the ledger.
type ExecutionRecord struct {
	// Changeset is the "id::author" key of the changeset.
	Changeset      string
	ExecutionOrder int64
	Duration       time.Duration
	// Err is nil on success. At most the last record of a run carries an
	// error, because the run halts there.
	Err error
}

// RunReport summarizes an Update or Rollback run: its final state, the
// records of every changeset attempted, and any warnings noticed after a
// completed run.
type RunReport struct {
	State RunState
	// RunID is a fresh UUID identifying this run; the same value is stamped
	// on every ledger entry the run writes.
	RunID    string
	Records  []ExecutionRecord
	Warnings []Warning
}

// txBeginner is satisfied by *sql.DB and *sql.Conn.
type txBeginner interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Migrator should be instantiated with [NewMigrator] rather than used
// directly. It holds the state needed to plan, apply, reverse, and report on
// changesets.
type Migrator struct {
	// Changelog is the full ordered set of changesets describing the desired
	// state of the database.
	Changelog *Changelog
	// Ledger records which changesets have been applied. [NewMigrator]
	// defaults it to the dialect's default table name; set
	// Ledger.TableName to use a different table.
	Ledger *Ledger
	// Logger receives messages as the migrator operates. It is designed to
	// be easy to adapt to whatever logging system you use.
	//
	// [NewMigrator] defaults it to nil, which logs nothing.
	Logger Logger
	// Normalization selects how changeset bodies are canonicalized before
	// checksumming. It must not change once a ledger has entries.
	//
	// [NewMigrator] defaults it to [NormalizeNone].
	Normalization Normalization
	// Principal is recorded as applied_by and rolled_back_by on ledger
	// entries. When empty, the current OS user is used.
	Principal string
	// LockTimeout bounds how long to wait for the advisory lock.
	//
	// [NewMigrator] defaults it to [DefaultLockTimeout].
	LockTimeout time.Duration
}

// NewMigrator creates a [Migrator] with defaults for all configurable
// fields:
//
//   - Ledger: the dialect's default table name
//   - Logger: nil, no messages will be logged
//   - Normalization: [NormalizeNone]
//   - Principal: the current OS user
//   - LockTimeout: [DefaultLockTimeout]
//
// To configure these fields, just set the values on the struct.
func NewMigrator(changelog *Changelog, d Dialect) *Migrator {
	return &Migrator{
		Changelog:     changelog,
		Ledger:        NewLedger(d, ""),
		Logger:        nil,
		Normalization: NormalizeNone,
		LockTimeout:   DefaultLockTimeout,
	}
}

// Update applies every pending changeset, in changelog declaration order, and
// returns a report of what happened.
//
// It does the following things:
//
// First, acquire an advisory lock so that only one writer operates on the
// ledger at a time. Anyone else attempting an Update or Rollback will wait up
// to LockTimeout and then fail with a [*LockTimeoutError]. Status never takes
// the lock.
//
// Then, plan. The plan is the list of changelog changesets that have no
// applied ledger entry, kept in declaration order: the changelog is a
// program, not a directory listing, and is never re-sorted. Before planning
// completes, every already-applied changeset is checksum-verified against its
// current body; any mismatch fails the run with a [*ChecksumDriftError]
// before any schema change is attempted.
//
// For each changeset in the plan:
//
//   - Evaluate its preconditions. A failed check halts, skips, or warns
//     according to the changeset's onFail policy.
//   - Begin a transaction.
//   - Execute the apply body.
//   - Record the application in the ledger, in the same transaction.
//   - Commit.
//
// If a changeset fails, its transaction rolls back, leaving no ledger entry,
// and the run halts with an [*ExecutionError]: earlier changesets stay
// applied, later ones are not attempted. Running Update again resumes at the
// first unapplied changeset.
//
// After all changesets apply, ledger entries whose changesets no longer
// appear in the changelog are reported as warnings on the returned report.
func (m *Migrator) Update(ctx context.Context, db *sql.DB) (*RunReport, error) {
	report := &RunReport{State: RunIdle, RunID: uuid.NewString()}
	err := m.withLock(ctx, db, func(conn *sql.Conn) error {
		if err := m.Ledger.Ensure(ctx, conn); err != nil {
			return err
		}
		m.transition(ctx, report, RunPlanning)
		plan, err := m.Plan(ctx, conn)
		if err != nil {
			return err
		}
		m.info(ctx, fmt.Sprintf("planning to apply %d changesets", len(plan)))
		for i, cs := range plan {
			m.debug(ctx, fmt.Sprintf("%d", i), LogField{Key: "changeset", Value: cs.Key()})
		}
		m.transition(ctx, report, RunApplying)
		for i := range plan {
			record, err := m.applyChangeset(ctx, conn, &plan[i], report.RunID)
			if record != nil {
				report.Records = append(report.Records, *record)
			}
			if err != nil {
				return err
			}
		}
		report.Warnings, err = m.unmatchedWarnings(ctx, conn)
		return err
	})
	if err != nil {
		report.State = RunFailed
		return report, err
	}
	m.transition(ctx, report, RunCompleted)
	return report, nil
}

// Plan shows which changesets, if any, would be applied, in the order that
// they would be applied in.
//
// The plan is the list of changelog changesets that have no applied entry in
// the ledger, in changelog declaration order. Declaration order is semantic:
// a changeset declared earlier runs earlier, whatever its id looks like, and
// the plan is never re-sorted.
//
// A changeset is only ever applied once. Editing an applied changeset's body
// does NOT get it re-applied; instead planning fails with a
// [*ChecksumDriftError], before anything is executed. To accept edited
// bodies on purpose, rebaseline with [Migrator.RebaselineChecksums].
func (m *Migrator) Plan(ctx context.Context, db Executor) ([]Changeset, error) {
	applied, err := m.Ledger.ListApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	appliedByKey := make(map[string]LedgerEntry, len(applied))
	for _, entry := range applied {
		appliedByKey[entry.Key()] = entry
	}
	var plan []Changeset
	for _, cs := range m.changesets() {
		entry, ok := appliedByKey[cs.Key()]
		if !ok {
			plan = append(plan, cs)
			continue
		}
		computed := cs.Checksum(m.Normalization)
		if CompareChecksums(entry.Checksum, computed) == ChecksumMismatch {
			return nil, &ChecksumDriftError{
				ID:       cs.ID,
				Author:   cs.Author,
				Stored:   entry.Checksum,
				Computed: computed,
			}
		}
	}
	return plan, nil
}

// Validate checks the changelog against the ledger without applying
// anything: every applied changeset's checksum must still match its body,
// and applied entries missing from the changelog are returned as warnings.
// It takes no lock and writes nothing.
func (m *Migrator) Validate(ctx context.Context, db Executor) ([]Warning, error) {
	if _, err := m.Plan(ctx, db); err != nil {
		return nil, err
	}
	return m.unmatchedWarnings(ctx, db)
}

// applyChangeset runs a single changeset:
//   - evaluate its preconditions
//   - BEGIN;
//   - execute the apply body
//   - insert the ledger entry marking it applied
//   - COMMIT;
func (m *Migrator) applyChangeset(ctx context.Context, db txBeginner, cs *Changeset, runID string) (*ExecutionRecord, error) {
	skip, err := m.checkPreconditions(ctx, db, cs)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, nil
	}

	order, err := m.Ledger.NextExecutionOrder(ctx, db)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now().UTC()
	checksum := cs.Checksum(m.Normalization)
	fields := []LogField{
		{Key: "changeset", Value: cs.Key()},
		{Key: "checksum", Value: checksum},
		{Key: "execution_order", Value: order},
		{Key: "started_at", Value: startedAt},
	}
	m.info(ctx, "applying changeset", fields...)
	record := &ExecutionRecord{Changeset: cs.Key(), ExecutionOrder: order}
	if !m.Ledger.Dialect.TransactionalDDL() {
		m.warn(ctx, "dialect cannot roll back DDL; a failure may leave partial schema changes", fields...)
	}
	record.Err = m.inTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, cs.Apply)
		finishedAt := time.Now().UTC()
		record.Duration = finishedAt.Sub(startedAt)
		fields = append(fields,
			LogField{Key: "execution_time_ms", Value: record.Duration.Milliseconds()},
			LogField{Key: "finished_at", Value: finishedAt},
		)
		if err != nil {
			msg := "failed to apply changeset"
			fields = append(fields, m.Ledger.Dialect.ErrorData(err)...)
			m.error(ctx, err, msg, fields...)
			return &ExecutionError{ID: cs.ID, Author: cs.Author, Phase: "apply", Err: err}
		}
		m.info(ctx, "changeset succeeded", fields...)
		err = m.Ledger.RecordApplied(ctx, tx, LedgerEntry{
			ID:                    cs.ID,
			Author:                cs.Author,
			Checksum:              checksum,
			ExecutionOrder:        order,
			AppliedAt:             startedAt,
			AppliedBy:             m.principal(),
			ExecutionTimeInMillis: record.Duration.Milliseconds(),
			RunID:                 runID,
			Status:                StatusApplied,
		})
		if err != nil {
			msg := "failed to mark changeset as applied"
			m.error(ctx, err, msg, fields...)
			var dup *DuplicateApplicationError
			if errors.As(err, &dup) {
				return err
			}
			return &ExecutionError{ID: cs.ID, Author: cs.Author, Phase: "record", Err: err}
		}
		m.info(ctx, "marked as applied", fields...)
		return nil
	})
	return record, record.Err
}

// checkPreconditions evaluates each precondition of the changeset in order.
// It returns skip=true when a failed check has the skip policy; a failed
// check with the halt policy returns a [*PreconditionFailedError].
func (m *Migrator) checkPreconditions(ctx context.Context, db Executor, cs *Changeset) (skip bool, err error) {
	for _, p := range cs.Preconditions {
		var raw any
		if err := db.QueryRowContext(ctx, p.Query).Scan(&raw); err != nil {
			return false, &ExecutionError{ID: cs.ID, Author: cs.Author, Phase: "precondition", Err: err}
		}
		got := scalarString(raw)
		if got == p.Expect {
			continue
		}
		fields := []LogField{
			{Key: "changeset", Value: cs.Key()},
			{Key: "query", Value: p.Query},
			{Key: "expect", Value: p.Expect},
			{Key: "got", Value: got},
		}
		switch p.policy() {
		case OnFailSkip:
			m.info(ctx, "precondition not met, skipping changeset", fields...)
			return true, nil
		case OnFailWarn:
			m.warn(ctx, "precondition not met, applying anyway", fields...)
		default:
			return false, &PreconditionFailedError{
				ID:     cs.ID,
				Author: cs.Author,
				Query:  p.Query,
				Expect: p.Expect,
				Got:    got,
			}
		}
	}
	return false, nil
}

// unmatchedWarnings reports applied ledger entries whose changesets no longer
// appear in the changelog. Usually the cause is removing a changeset without
// realizing it was already applied somewhere; worth showing to a human, not
// worth failing a run over.
func (m *Migrator) unmatchedWarnings(ctx context.Context, db Executor) ([]Warning, error) {
	applied, err := m.Ledger.ListApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	var warnings []Warning
	for _, entry := range applied {
		if m.Changelog.Find(entry.ID, entry.Author) != nil {
			continue
		}
		warnings = append(warnings, Warning{
			Message: "found applied changeset not present in the changelog",
			Fields: map[string]any{
				"changeset":  entry.Key(),
				"applied_at": entry.AppliedAt,
				"applied_by": entry.AppliedBy,
				"checksum":   entry.Checksum,
			},
		})
	}
	return warnings, nil
}

// withLock runs cb while holding the engine's advisory lock on a dedicated
// connection. The lock and the work share that connection, so a dropped
// session releases the lock with it.
func (m *Migrator) withLock(ctx context.Context, db *sql.DB, cb func(conn *sql.Conn) error) error {
	name := lockPrefix + m.Ledger.TableName
	timeout := m.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	err := dblock.With(ctx, db, m.Ledger.Dialect, name, timeout, cb)
	if errors.Is(err, dblock.ErrTimeout) {
		m.warn(ctx, "timed out waiting for advisory lock",
			LogField{Key: "lock", Value: name},
			LogField{Key: "timeout", Value: timeout},
		)
		return &LockTimeoutError{LockName: name, Timeout: timeout}
	}
	return err
}

func (m *Migrator) inTx(ctx context.Context, db txBeginner, cb func(tx *sql.Tx) error) (final error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		msg := "tx open"
		m.error(ctx, err, msg)
		return fmt.Errorf("%s: %w", msg, err)
	}
	defer func() {
		if final != nil {
			if err := tx.Rollback(); err != nil {
				final = multierr.Join(final, fmt.Errorf("tx rollback: %w", err))
			}
		} else {
			if err := tx.Commit(); err != nil {
				final = multierr.Join(final, fmt.Errorf("tx commit: %w", err))
			}
		}
	}()
	return cb(tx)
}

func (m *Migrator) transition(ctx context.Context, report *RunReport, state RunState) {
	report.State = state
	m.debug(ctx, "run state", LogField{Key: "state", Value: string(state)})
}

// changesets returns the changelog's changesets in declaration order. A
// migrator with no changelog has none.
func (m *Migrator) changesets() []Changeset {
	if m.Changelog == nil {
		return nil
	}
	return m.Changelog.Changesets
}

func (m *Migrator) principal() string {
	if m.Principal != "" {
		return m.Principal
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// scalarString renders a scanned scalar for comparison against a
// precondition's expected value.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func (m *Migrator) log(ctx context.Context, level LogLevel, msg string, args ...LogField) {
	if m.Logger != nil {
		if hl, ok := m.Logger.(Helper); ok {
			hl.Helper()
		}
		m.Logger.Log(ctx, level, msg, args...)
	}
}

func (m *Migrator) info(ctx context.Context, msg string, args ...LogField) {
	if logger, ok := m.Logger.(Helper); ok {
		logger.Helper()
	}
	m.log(ctx, LogLevelInfo, msg, args...)
}

func (m *Migrator) debug(ctx context.Context, msg string, args ...LogField) {
	if logger, ok := m.Logger.(Helper); ok {
		logger.Helper()
	}
	m.log(ctx, LogLevelDebug, msg, args...)
}

func (m *Migrator) error(ctx context.Context, err error, msg string, args ...LogField) {
	args = append(args, LogField{Key: "error", Value: err})
	if logger, ok := m.Logger.(Helper); ok {
		logger.Helper()
	}
	m.log(ctx, LogLevelError, msg, args...)
}

func (m *Migrator) warn(ctx context.Context, msg string, args ...LogField) {
	if logger, ok := m.Logger.(Helper); ok {
		logger.Helper()
	}
	m.log(ctx, LogLevelWarning, msg, args...)
}
