package sqledger

// A Warning describes a suspicious but non-fatal condition noticed while
// planning or reporting, most commonly a ledger entry whose changeset no
// longer appears in the changelog. Warnings never stop a run; they are
// returned so callers can surface them.
type Warning struct {
	Message string
	Fields  map[string]any
}
