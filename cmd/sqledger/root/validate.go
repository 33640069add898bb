package root

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var validateCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "validate",
	Aliases: []string{"verify"},
	Short:   "Check the changelog against the ledger without applying anything",
	Long: shared.CLIHelp(`
Loads the changelog and checks it against the ledger:

- a malformed changelog (duplicate identities, missing files, include cycles)
  fails immediately
- an applied changeset whose body no longer matches its recorded checksum
  fails with a drift error (exit code 2)
- applied ledger entries whose changesets are no longer in the changelog are
  printed as warnings, and the command exits with status code 1

Otherwise, succeeds without printing anything and exits with status code 0.
Validate takes no lock and writes nothing.
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

		warnings, err := m.Validate(cmd.Context(), db)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			slogger.With(shared.WarningArgs(w)...).Warn(w.Message)
		}
		if len(warnings) != 0 {
			os.Exit(1)
		}
		return nil
	},
}
