package shared

import (
	"fmt"
	"strings"
)

// Required is any setting that can report whether it was given a value.
type Required interface {
	Name() string
	IsSet() bool
}

// Validate returns an error naming every unset setting, phrased like cobra's
// own missing-flag errors.
func Validate(vars ...Required) error {
	missing := []string{}
	for _, s := range vars {
		if !s.IsSet() {
			missing = append(missing, s.Name())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) == 1 {
		return fmt.Errorf(`required flag "%s" not set`, missing[0])
	}
	return fmt.Errorf(`required flags "%s" not set`, strings.Join(missing, `", "`))
}

// NewVariable resolves a setting from candidate values in precedence order:
// the first non-zero value wins. Callers list flag, environment, config file,
// and default values, in that order.
func NewVariable[T comparable](name string, values ...T) Variable[T] {
	var result T // starts at zero value
	for _, v := range values {
		if v != result {
			result = v
			break
		}
	}
	return Variable[T]{name: name, value: result}
}

// Variable is a resolved setting: its flag name plus the value that won.
type Variable[T comparable] struct {
	name  string
	value T
}

func (s Variable[T]) Name() string {
	return s.name
}

func (s Variable[T]) IsSet() bool {
	var zero T
	return s.value != zero
}

func (s Variable[T]) Value() T {
	return s.value
}
