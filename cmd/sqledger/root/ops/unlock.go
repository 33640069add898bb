package ops

import (
	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var unlock = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "unlock",
	Aliases: []string{"force-unlock"},
	Short:   "force-release a stale advisory lock",
	Long: shared.CLIHelp(`
Releases the engine's advisory lock regardless of who holds it. Only needed
after a crashed run on dialects whose locks outlive their session (SQLite's
lock table); Postgres and MySQL locks die with the connection that took
them, so there this is a no-op.

Do NOT run this while an update is actually in progress: the lock is the
only thing keeping a second writer out.
	`),
	Example: shared.CLIExample(`
# Clear a lock left behind by a crashed run against a SQLite file
sqledger ops unlock -d app.db
	`),
	RunE: func(cmd *cobra.Command, _ []string) error {
		shared.State.Parse()
		db, d, err := shared.OpenDB()
		if err != nil {
			return err
		}
		defer db.Close()
		slogger, mlogger := shared.State.Logger()
		m := shared.NewLedgerMigrator(d, mlogger)

		if err := m.Unlock(cmd.Context(), db); err != nil {
			return err
		}
		slogger.Info("released advisory lock", "table", m.Ledger.TableName)
		return nil
	},
}
