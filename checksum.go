package sqledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalization controls how a changeset body is canonicalized before it is
// fingerprinted. The chosen mode must stay stable for the life of a ledger:
// fingerprints computed under different modes are not comparable.
type Normalization int

const (
	// NormalizeNone fingerprints the body byte-for-byte as written. This is
	// the default.
	NormalizeNone Normalization = iota
	// NormalizeWhitespace trims each line, drops blank lines, and joins the
	// rest with single newlines, so reflowing or re-indenting a changeset
	// does not read as drift.
	NormalizeWhitespace
)

// Normalize canonicalizes body according to the mode.
func (n Normalization) Normalize(body string) string {
	if n != NormalizeWhitespace {
		return body
	}
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// Fingerprint computes the hex-encoded SHA-256 checksum of a changeset's
// apply body under the given normalization. Only the apply body participates:
// the revert body may be added or edited after application without reading as
// drift.
func Fingerprint(body string, mode Normalization) string {
	sum := sha256.Sum256([]byte(mode.Normalize(body)))
	return hex.EncodeToString(sum[:])
}

// Checksum is shorthand for fingerprinting a changeset under a mode.
func (c *Changeset) Checksum(mode Normalization) string {
	return Fingerprint(c.Apply, mode)
}

// Comparison is the outcome of checking a stored checksum against a
// recomputed one.
type Comparison int

const (
	ChecksumMatch Comparison = iota
	ChecksumMismatch
)

func (c Comparison) String() string {
	if c == ChecksumMatch {
		return "match"
	}
	return "mismatch"
}

// CompareChecksums checks a ledger-stored checksum against a freshly computed
// one. Hex digests compare case-insensitively.
func CompareChecksums(stored, computed string) Comparison {
	if strings.EqualFold(stored, computed) {
		return ChecksumMatch
	}
	return ChecksumMismatch
}
