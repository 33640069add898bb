// Package multierr combines multiple errors into one.
package multierr

import "errors"

// Join returns an error wrapping the given errors, discarding nils. If every
// error is nil, Join returns nil. The result unwraps to each of its parts,
// so errors.Is and errors.As see through it.
//
// The typical use is accumulating a deferred cleanup failure alongside the
// error already being returned.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
