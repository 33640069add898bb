package sqledger

import (
	"fmt"
	"time"
)

// MalformedChangelogError reports a structural problem in a changelog
// document: duplicate changeset identities, an unresolvable file reference, a
// cyclic include, or an entry that is missing required fields. Loading fails
// before anything is executed, so a malformed changelog never results in a
// partially applied run.
type MalformedChangelogError struct {
	Path   string // the changelog document being parsed
	Detail string
	Err    error // underlying cause, may be nil
}

func (e *MalformedChangelogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed changelog %s: %s: %s", e.Path, e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed changelog %s: %s", e.Path, e.Detail)
}

func (e *MalformedChangelogError) Unwrap() error { return e.Err }

// ChecksumDriftError reports that the current contents of a changeset no
// longer hash to the checksum that was recorded when it was applied. This
// means someone edited a changeset after it ran, and the history on disk no
// longer describes the schema that exists in the database.
//
// Drift is never repaired automatically: it fails the run before any schema
// change is attempted, and requires an operator to either restore the
// original contents or explicitly re-baseline with
// [Migrator.RebaselineChecksums] / `sqledger clear-checksums`.
type ChecksumDriftError struct {
	ID       string
	Author   string
	Stored   string // checksum recorded in the ledger at application time
	Computed string // checksum of the changeset's current contents
}

func (e *ChecksumDriftError) Error() string {
	return fmt.Sprintf(
		"checksum drift on changeset %s: ledger has %s, current contents hash to %s",
		changesetKey(e.ID, e.Author), e.Stored, e.Computed,
	)
}

// DuplicateApplicationError reports an attempt to record a changeset as
// applied when the ledger already holds an applied row for the same identity.
// It usually means two runs raced past each other, and is a signal that the
// second run must stop; it is not by itself evidence of a corrupted schema.
type DuplicateApplicationError struct {
	ID     string
	Author string
}

func (e *DuplicateApplicationError) Error() string {
	return fmt.Sprintf("changeset %s is already recorded as applied", changesetKey(e.ID, e.Author))
}

// ExecutionError reports that a changeset's statements failed while being
// applied or reverted. The run halts at the failing changeset; everything
// recorded before it stays recorded, so re-invoking resumes exactly where the
// failure happened.
type ExecutionError struct {
	ID     string
	Author string
	Phase  string // "apply", "revert", "precondition", or "record"
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("changeset %s failed during %s: %s", changesetKey(e.ID, e.Author), e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NoRollbackDefinedError reports a rollback request that covers a changeset
// without any revert operations. Inverses are always author-supplied, never
// derived, so the whole rollback call fails before reversing anything.
type NoRollbackDefinedError struct {
	ID     string
	Author string
}

func (e *NoRollbackDefinedError) Error() string {
	return fmt.Sprintf("changeset %s does not define rollback operations", changesetKey(e.ID, e.Author))
}

// LockTimeoutError reports that the exclusive lock on the target database
// could not be acquired within the configured wait. Another run holds it; the
// caller may retry once that run finishes.
type LockTimeoutError struct {
	LockName string
	Timeout  time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock %q", e.Timeout, e.LockName)
}

// PreconditionFailedError reports a precondition whose check query did not
// produce the expected value, under the halt policy. The run stops before the
// changeset's body is executed.
type PreconditionFailedError struct {
	ID     string
	Author string
	Query  string
	Expect string
	Got    string
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf(
		"precondition failed for changeset %s: query %q returned %q, expected %q",
		changesetKey(e.ID, e.Author), e.Query, e.Got, e.Expect,
	)
}
