package sqledger

import (
	"fmt"
	"strings"
)

// KeySeparator joins the id and author halves of a changeset identity when it
// is rendered as a single string, as in "0001_users::ana".
const KeySeparator = "::"

// Changeset is a single identified unit of schema or data change. Its
// identity is the (ID, Author) pair, which must be unique within a changelog.
// Its position is wherever it was declared: changesets run in declaration
// order, and that order is part of the contract — it is never re-sorted.
//
// Once a changeset has been recorded as applied anywhere, its Apply body is
// immutable: editing it afterwards is drift, detected by checksum and
// reported as a [ChecksumDriftError] rather than honored.
type Changeset struct {
	ID     string
	Author string

	// Apply holds one or more SQL statements, executed as a single body
	// within one transactional boundary.
	Apply string

	// Revert holds the author-supplied inverse of Apply. An empty Revert
	// means this changeset cannot be rolled back; inverses are never derived
	// automatically.
	Revert string

	// Preconditions are checks evaluated before Apply runs. See
	// [Precondition] for the failure policies.
	Preconditions []Precondition

	// Source records where this changeset came from (changelog path or
	// referenced file) for error messages and logs. It does not contribute
	// to the checksum.
	Source string
}

// Key renders the changeset's identity as "id::author".
func (c *Changeset) Key() string {
	return changesetKey(c.ID, c.Author)
}

// HasRollback reports whether this changeset defines revert operations.
func (c *Changeset) HasRollback() bool {
	return strings.TrimSpace(c.Revert) != ""
}

// OnFailPolicy selects what happens when a precondition check does not
// produce its expected value.
type OnFailPolicy string

const (
	// OnFailHalt stops the run with a [PreconditionFailedError] before the
	// changeset's body executes. This is the default.
	OnFailHalt OnFailPolicy = "halt"
	// OnFailSkip leaves the changeset unapplied for this run and continues
	// with the next one. The changeset stays pending and the check is
	// re-evaluated on the next run.
	OnFailSkip OnFailPolicy = "skip"
	// OnFailWarn logs a warning and applies the changeset anyway.
	OnFailWarn OnFailPolicy = "warn"
)

// Precondition is a scalar SQL check attached to a changeset. The Query is
// executed read-only; its single result value is rendered as a string and
// compared against Expect.
type Precondition struct {
	Query  string
	Expect string
	OnFail OnFailPolicy // defaults to OnFailHalt when empty
}

func (p Precondition) policy() OnFailPolicy {
	if p.OnFail == "" {
		return OnFailHalt
	}
	return p.OnFail
}

func changesetKey(id, author string) string {
	return id + KeySeparator + author
}

// ParseKey splits an "id::author" string back into its halves. It is the
// inverse of [Changeset.Key] and is used by callers that identify changesets
// on the command line.
func ParseKey(key string) (id, author string, err error) {
	id, author, ok := strings.Cut(key, KeySeparator)
	if !ok || id == "" || author == "" {
		return "", "", fmt.Errorf("invalid changeset key %q: want \"id%sauthor\"", key, KeySeparator)
	}
	return id, author, nil
}
