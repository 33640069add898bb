package root

import (
	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var clearChecksumsCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "clear-checksums",
	Aliases: []string{"rebaseline"},
	Short:   "Re-baseline stored checksums from the current changeset bodies",
	Long: shared.CLIHelp(`
Recomputes the checksum of every applied ledger entry from its changeset's
current body and stores the result, accepting all edits as the new baseline.

This is the recovery path for checksum drift. Drift is never repaired
automatically: editing an applied changeset fails every update and rollback
until someone either restores the original body or runs this command and
owns the decision. The change is logged entry by entry.
	`),
	Example: shared.CLIExample(`
# Accept all edited changeset bodies as the new baseline
sqledger clear-checksums -d app.db -c db/changelog.yaml
	`),
	GroupID:          "ops",
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

		updated, err := m.RebaselineChecksums(cmd.Context(), db)
		if err != nil {
			return err
		}
		slogger.Info("re-baselined checksums", "count", len(updated))
		for i := range updated {
			entry := &updated[i]
			slogger.Info("set checksum",
				"changeset", entry.Key(),
				"checksum", entry.Checksum,
				"applied_at", entry.AppliedAt,
			)
		}
		return nil
	},
}
