package ops

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var MarkAppliedFlags struct {
	Keys *[]string
	All  *bool
}

var markApplied = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "mark-applied",
	Aliases: []string{"adopt"},
	Short:   "record changesets as applied without actually running them",
	Long: shared.CLIHelp(`
For adopting a database whose schema was created outside sqledger: record
what is already true, then let "sqledger update" handle everything new.
Changesets are named by their "id::author" keys. Keys already applied, or
unknown to the changelog, are skipped with a warning.
	`),
	Example: shared.CLIExample(`
# Record 0001_initial (by dana) as applied without running it
sqledger ops mark-applied "0001_initial::dana"
sqledger ops mark-applied --key "0001_initial::dana"

# Record several at once
sqledger ops mark-applied "0001_initial::dana" "0002_add_index::dana"

# Record every changeset in the changelog as applied
sqledger ops mark-applied --all
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if len(args) != 0 {
			*MarkAppliedFlags.Keys = append(*MarkAppliedFlags.Keys, args...)
		}
		if len(*MarkAppliedFlags.Keys) != 0 && *MarkAppliedFlags.All {
			return fmt.Errorf("--all and --key are mutually exclusive")
		}
		if len(*MarkAppliedFlags.Keys) == 0 && !*MarkAppliedFlags.All {
			return fmt.Errorf("must pass at least one changeset key with --key or --all")
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

		// Execution
		keys := *MarkAppliedFlags.Keys
		if *MarkAppliedFlags.All {
			slogger.Info("marking ALL changesets as applied")
			keys = m.Changelog.Keys()
		}
		marked, err := m.MarkApplied(ctx, db, keys...)
		if err != nil {
			return err
		}
		slogger.Info("marked changesets as applied", "count", len(marked))
		for i := range marked {
			entry := &marked[i]
			slogger.Info("marked as applied",
				"changeset", entry.Key(),
				"checksum", entry.Checksum,
				"applied_at", entry.AppliedAt,
			)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits
	MarkAppliedFlags.Keys = markApplied.Flags().StringArrayP("key", "k", nil, "'id::author' keys of changesets to mark as applied")
	MarkAppliedFlags.All = markApplied.Flags().BoolP("all", "a", false, "if true, mark every changelog changeset as applied")
	markApplied.MarkFlagsMutuallyExclusive("key", "all")
}
