package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger/cmd/sqledger/root/ops"
	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var Command = &cobra.Command{ //nolint:gochecknoglobals
	Version: shared.VersionString(),
	Use:     "sqledger",
	Short:   "apply and reverse versioned schema changesets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf(`invalid command: "%s"`, args[0])
		}
		return cmd.Help()
	},
}

func init() { //nolint:gochecknoinits
	Command.CompletionOptions.HiddenDefaultCmd = true
	Command.TraverseChildren = true
	Command.SilenceErrors = true
	Command.SilenceUsage = false
	Command.SetVersionTemplate("{{.Version}}\n")

	shared.State.Flags.LogFormat = Command.PersistentFlags().StringP(
		"log-format",
		"l",
		string(shared.LogFormatText),
		fmt.Sprintf("[SQLEDGER_LOG_FORMAT] '%s' or '%s', the log line format", shared.LogFormatText, shared.LogFormatJSON),
	)
	shared.State.Flags.Database = Command.PersistentFlags().StringP(
		"database",
		"d",
		"",
		"[SQLEDGER_DATABASE] a connection string for the database to manage",
	)
	shared.State.Flags.Changelog = Command.PersistentFlags().StringP(
		"changelog",
		"c",
		"",
		"[SQLEDGER_CHANGELOG] a path to the root changelog document",
	)
	shared.State.Flags.Dialect = Command.PersistentFlags().String(
		"dialect",
		"",
		"[SQLEDGER_DIALECT] 'postgres', 'sqlite', or 'mysql'; inferred from --database when omitted",
	)
	shared.State.Flags.TableName = Command.PersistentFlags().String(
		"table",
		"",
		"[SQLEDGER_TABLE] the name of the ledger table, defaults to the dialect's",
	)
	shared.State.Flags.ConfigFile = Command.PersistentFlags().StringP(
		"configfile",
		"f",
		"",
		"[SQLEDGER_CONFIGFILE] a path to a configuration file",
	)
	shared.State.Flags.AppliedBy = Command.PersistentFlags().String(
		"applied-by",
		"",
		"[SQLEDGER_APPLIED_BY] the principal recorded on ledger entries, defaults to the OS user",
	)
	shared.State.Flags.LockTimeout = Command.PersistentFlags().Duration(
		"lock-timeout",
		0,
		"[SQLEDGER_LOCK_TIMEOUT] how long to wait for the advisory lock (default 30s)",
	)
	_ = Command.MarkPersistentFlagFilename("changelog", "yaml", "yml")
	_ = Command.MarkPersistentFlagFilename("configfile", "yaml", "yml")

	Command.AddGroup(
		&cobra.Group{
			ID:    "migrating",
			Title: "Migrating:",
		},
		&cobra.Group{
			ID:    "ops",
			Title: "Operations:",
		},
		&cobra.Group{
			ID:    "dev",
			Title: "Development:",
		},
	)

	// migrating
	Command.AddCommand(statusCmd)
	Command.AddCommand(updateCmd)
	Command.AddCommand(rollbackCmd)
	Command.AddCommand(validateCmd)
	Command.AddCommand(historyCmd)

	// ops
	Command.AddCommand(ops.Command)
	Command.AddCommand(clearChecksumsCmd)
	Command.AddCommand(versionCmd)

	// dev
	Command.AddCommand(newCmd)
	Command.AddCommand(configCmd)
	Command.SetHelpCommandGroupID("dev")
}
