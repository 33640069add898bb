package shared

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sqledger/sqledger"
)

// WarningArgs flattens a warning's fields into logger key/value arguments,
// sorted by key so repeated runs print identically.
func WarningArgs(w sqledger.Warning) []any {
	keys := maps.Keys(w.Fields)
	slices.Sort(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, w.Fields[k])
	}
	return args
}
