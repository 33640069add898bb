package root

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show each changeset's state relative to the ledger",
	Long: shared.CLIHelp(`
Classifies every changeset in the changelog, in declaration order, as one of:

- applied: an applied ledger entry exists and its checksum matches
- drifted: an applied ledger entry exists but the body has been edited since
- pending: no applied ledger entry exists

Also warns about applied ledger entries whose changesets no longer appear in
the changelog.

If anything is pending or drifted, exits with status code 1; otherwise exits
with status code 0. Status never takes the advisory lock and never writes, so
it is safe to run while an update is in progress elsewhere.
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

		report, err := m.Status(cmd.Context(), db)
		if err != nil {
			return err
		}
		for i := range report.Changesets {
			cs := &report.Changesets[i]
			line := slogger.With("state", string(cs.State))
			if cs.Entry != nil {
				line = line.With(
					"applied_at", cs.Entry.AppliedAt,
					"execution_order", cs.Entry.ExecutionOrder,
				)
			}
			line.Info(cs.Key())
		}
		for _, entry := range report.Unmatched {
			slogger.With(
				"applied_at", entry.AppliedAt,
				"applied_by", entry.AppliedBy,
				"checksum", entry.Checksum,
			).Warn("applied but not in the changelog: " + entry.Key())
		}
		if !report.UpToDate() {
			os.Exit(1)
		}
		return nil
	},
}
