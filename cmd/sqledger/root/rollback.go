package root

import (
	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var RollbackFlags struct {
	Count *int
	To    *string
}

var rollbackCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "rollback",
	Aliases: []string{"revert", "down"},
	Short:   "Reverse applied changesets, newest first",
	Long: shared.CLIHelp(`
Reverses the most recent applied changesets in strict reverse order of
application, either a fixed number of them (--count) or everything applied
after a named changeset (--to, exclusive: the named changeset stays applied).

A changeset can only be reversed with the rollback body its author wrote;
inverses are never derived. If any selected changeset has no rollback body,
or its body has drifted since it was applied, the whole command fails before
reversing anything.

Each reversal runs in its own transaction: the rollback body executes, then
the ledger entry flips to rolled_back. Entries are never deleted, so the
ledger keeps the full history; re-applying later creates new entries with
fresh execution orders.
	`),
	Example: shared.CLIExample(`
# Reverse the most recently applied changeset
sqledger rollback
sqledger rollback --count 1

# Reverse the three most recent
sqledger rollback --count 3

# Reverse everything applied after 0002_add_index::dana
sqledger rollback --to "0002_add_index::dana"
	`),
	GroupID:          "migrating",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		shared.State.Parse()
		db, d, err := shared.OpenDB()
		if err != nil {
			return err
		}
		defer db.Close()
		slogger, mlogger := shared.State.Logger()
		m, err := shared.NewMigrator(d, mlogger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var report *sqledger.RunReport
		if *RollbackFlags.To != "" {
			id, author, perr := sqledger.ParseKey(*RollbackFlags.To)
			if perr != nil {
				return perr
			}
			report, err = m.RollbackTo(ctx, db, id, author)
		} else {
			report, err = m.RollbackCount(ctx, db, *RollbackFlags.Count)
		}
		if err != nil {
			return err
		}
		slogger.Info("rollback complete",
			"run_id", report.RunID,
			"state", string(report.State),
			"rolled_back", len(report.Records),
		)
		return nil
	},
}

func init() { //nolint:gochecknoinits
	RollbackFlags.Count = rollbackCmd.Flags().IntP("count", "n", 1, "how many of the most recent changesets to reverse")
	RollbackFlags.To = rollbackCmd.Flags().String("to", "", "reverse everything applied after this 'id::author' changeset")
	rollbackCmd.MarkFlagsMutuallyExclusive("count", "to")
}
