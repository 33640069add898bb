package ops

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var RecalculateChecksumFlags struct {
	Keys *[]string
}

var recalculateChecksum = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "recalculate-checksum",
	Aliases: []string{"recalculate", "refresh"},
	Short:   "recompute the stored checksum of applied entries from their current bodies",
	Long: shared.CLIHelp(`
Recomputes the checksum of the named changesets from their current changelog
bodies and stores the results on their applied ledger entries. This accepts
an edit to those specific changesets as deliberate; to accept every edit at
once, use "sqledger clear-checksums".
	`),
	Example: shared.CLIExample(`
# Accept the current body of 0002_add_index (by dana) as its new baseline
sqledger ops recalculate-checksum "0002_add_index::dana"
sqledger ops recalculate-checksum --key "0002_add_index::dana"

# Several at once
sqledger ops recalculate-checksum "0002_add_index::dana" "0003_backfill::omar"
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if len(args) != 0 {
			*RecalculateChecksumFlags.Keys = append(*RecalculateChecksumFlags.Keys, args...)
		}
		if len(*RecalculateChecksumFlags.Keys) == 0 {
			return fmt.Errorf("must pass at least one changeset key with --key")
		}
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

		updated, err := m.RecalculateChecksums(ctx, db, *RecalculateChecksumFlags.Keys...)
		if err != nil {
			return err
		}
		slogger.Info("recalculated checksums", "count", len(updated))
		for i := range updated {
			entry := &updated[i]
			slogger.Info("recalculated",
				"changeset", entry.Key(),
				"checksum", entry.Checksum,
				"applied_at", entry.AppliedAt,
			)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits
	RecalculateChecksumFlags.Keys = recalculateChecksum.Flags().StringArrayP("key", "k", nil, "'id::author' keys of entries to recompute")
}
