package ops

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var SetChecksumFlags struct {
	Key      *string
	Checksum *string
}

var setChecksum = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "set-checksum",
	Aliases: []string{"checksum", "set-hash", "hash"},
	Short:   "set the stored checksum of an applied ledger entry",
	Example: shared.CLIExample(`
# Record changeset 0002_add_index (by dana) as having checksum 'aaaa...'
sqledger ops set-checksum "0002_add_index::dana" aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
sqledger ops set-checksum --key "0002_add_index::dana" --checksum aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if len(args) == 2 {
			*SetChecksumFlags.Key = args[0]
			*SetChecksumFlags.Checksum = args[1]
		} else if len(args) != 0 {
			return fmt.Errorf("unexpected arguments: ['%s']", strings.Join(args, "', '"))
		}
		var missing []string
		if *SetChecksumFlags.Key == "" {
			missing = append(missing, "--key")
		}
		if *SetChecksumFlags.Checksum == "" {
			missing = append(missing, "--checksum")
		}
		if len(missing) == 1 {
			return fmt.Errorf(`required flag "%s" not set`, missing[0])
		}
		if len(missing) > 1 {
			return fmt.Errorf(`required flags "%s" not set`, strings.Join(missing, `", "`))
		}
		id, author, err := sqledger.ParseKey(*SetChecksumFlags.Key)
		if err != nil {
			return err
		}
		shared.State.Parse()
		db, d, err := shared.OpenDB()
		if err != nil {
			return err
		}
		defer db.Close()
		slogger, mlogger := shared.State.Logger()
		m := shared.NewLedgerMigrator(d, mlogger)

		updated, err := m.SetChecksums(ctx, db, sqledger.ChecksumUpdate{
			ID:          id,
			Author:      author,
			NewChecksum: *SetChecksumFlags.Checksum,
		})
		if err != nil {
			return err
		}
		slogger.Info("set changeset checksum", "count", len(updated))
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

func init() { //nolint:gochecknoinits
	SetChecksumFlags.Key = setChecksum.Flags().StringP("key", "k", "", "'id::author' key of the entry to update")
	SetChecksumFlags.Checksum = setChecksum.Flags().String("checksum", "", "the checksum value to store")
}
