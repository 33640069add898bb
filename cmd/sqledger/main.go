package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/cmd/sqledger/root"
)

func main() {
	defer func() {
		switch t := recover().(type) {
		case error:
			onError(fmt.Errorf("panic: %w", t))
		case string:
			onError(fmt.Errorf("panic: %s", t))
		default:
			if t != nil {
				onError(fmt.Errorf("panic: %+v", t))
			}
		}
		os.Exit(0)
	}()
	if err := root.Command.Execute(); err != nil {
		onError(err)
	}
}

func onError(err error) {
	msg := fmt.Sprintf("error: %s", err)
	_, _ = fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Italic).Sprintf(msg))
	os.Exit(exitCode(err)) //nolint:revive // intentional error handling
}

// exitCode maps the engine's error taxonomy onto shell-friendly codes: lock
// contention is retryable (3), a failure while validating or executing
// changesets is not (2), and anything else (usage mistakes, unreachable
// databases) is a plain error (1).
func exitCode(err error) int {
	var lockErr *sqledger.LockTimeoutError
	if errors.As(err, &lockErr) {
		return 3
	}
	var (
		malformedErr *sqledger.MalformedChangelogError
		driftErr     *sqledger.ChecksumDriftError
		dupErr       *sqledger.DuplicateApplicationError
		execErr      *sqledger.ExecutionError
		noRevertErr  *sqledger.NoRollbackDefinedError
		precondErr   *sqledger.PreconditionFailedError
	)
	if errors.As(err, &malformedErr) ||
		errors.As(err, &driftErr) ||
		errors.As(err, &dupErr) ||
		errors.As(err, &execErr) ||
		errors.As(err, &noRevertErr) ||
		errors.As(err, &precondErr) {
		return 2
	}
	return 1
}
