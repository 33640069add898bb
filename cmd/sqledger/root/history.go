package root

import (
	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var historyCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "history",
	Aliases: []string{"applied", "list"},
	Short:   "Show every ledger entry, applied and rolled back alike",
	Long: shared.CLIHelp(`
Prints every row of the ledger in execution order, including entries that
have since been rolled back. The ledger is append-only: normal operations
never delete a row, so this is the full provenance of the database.

Needs no changelog. If the ledger table does not exist, prints nothing and
exits successfully.
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
		m := shared.NewLedgerMigrator(d, mlogger)

		entries, err := m.Ledger.History(cmd.Context(), db)
		if err != nil {
			return err
		}
		for i := range entries {
			entry := &entries[i]
			line := slogger.With(
				"status", string(entry.Status),
				"execution_order", entry.ExecutionOrder,
				"applied_at", entry.AppliedAt,
				"applied_by", entry.AppliedBy,
				"run_id", entry.RunID,
				"execution_time_ms", entry.ExecutionTimeInMillis,
			)
			if entry.Status == sqledger.StatusRolledBack && entry.RolledBackAt != nil {
				line = line.With("rolled_back_at", *entry.RolledBackAt)
				if entry.RolledBackBy != nil {
					line = line.With("rolled_back_by", *entry.RolledBackBy)
				}
			}
			line.Info(entry.Key())
		}
		return nil
	},
}
