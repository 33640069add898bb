package root

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/cmd/sqledger/shared"
)

var NewFlags struct {
	Name   *string
	Author *string
	Bare   *bool
	Create *bool
	Revert *bool
}

var newCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "new",
	Short: "generate the next changeset in the changelog's sequence",
	Long: shared.CLIHelp(`
Most teams use an integer prefix in their changeset ids, to make it easier to
understand the order in which they'll be applied. For instance,

  0001_initial
  0002_create_users
  0003_another
  ...
  1039_most_recently

sqledger doesn't require this; changesets run in changelog declaration order
whatever their ids look like. But a numbered sequence keeps the declaration
order and the human-visible order in agreement, which is almost always what
you want.

This command reads the changelog, takes the id of the last declared
changeset, and generates the next id in the sequence. With --create it also
writes the changeset's SQL file (and, with --revert, a paired rollback file)
next to the changelog document and appends the new entry to it.

Example:
  * the last changeset in your changelog is "0139_something"
  * the next id in the sequence is "0140"
  * you run "sqledger new my_example --create"
  * the file "0140_my_example.sql" appears next to the changelog, and the
    changelog gains an entry declaring it

If your sequence has reached its maximum (all "9"s) the command will fail and
warn that the sequence has overflowed.
	`),
	Example: shared.CLIExample(`
# Just come up with the id, don't create anything
sqledger new
# Use a specific name => "0002_my_example"
sqledger new my_example
sqledger new --name my_example
# Create the SQL file and append the changelog entry
sqledger new my_example --create
# Also scaffold a paired rollback file
sqledger new my_example --create --revert
# Only print the file path, suitable for passing to other programs
sqledger new my_example --create --bare | xargs vim
	`),
	GroupID:          "dev",
	TraverseChildren: true,
	RunE: func(_ *cobra.Command, args []string) error {
		if len(args) == 1 && *NewFlags.Name == "" {
			*NewFlags.Name = args[0]
		}
		shared.State.Parse()
		changelogVar := shared.State.Changelog()
		if err := shared.Validate(changelogVar); err != nil {
			return err
		}
		slogger, _ := shared.State.Logger()

		changelogPath := changelogVar.Value()
		var changesets []sqledger.Changeset
		if _, err := os.Stat(changelogPath); err == nil {
			fsys, path := shared.ChangelogFS(changelogPath)
			changelog, err := sqledger.LoadChangelog(fsys, path)
			if err != nil {
				return err
			}
			changesets = changelog.Changesets
		}

		prefix := ""
		suffix := *NewFlags.Name
		if suffix == "" {
			suffix = "generated"
		}
		if len(changesets) == 0 {
			prefix = "0001"
			if *NewFlags.Name == "" {
				suffix = "initial"
			}
		} else {
			last := changesets[len(changesets)-1]
			parts := strings.SplitN(last.ID, "_", 2)
			if len(parts) == 0 {
				return fmt.Errorf("could not infer prefix from %s", last.ID)
			}
			prefix = parts[0]
			size := len(prefix)
			prefix = strings.TrimLeft(prefix, "0")
			i, err := strconv.Atoi(prefix)
			if err != nil {
				return fmt.Errorf("could not parse prefix as an integer: %s", parts[0])
			}
			i++
			prefix = fmt.Sprintf("%d", i)
			if len(prefix) > size {
				return fmt.Errorf(
					"sequence overflow: next prefix '%s' has more characters (%d) than the sequence allows (%d)",
					prefix, len(prefix), size,
				)
			}
			prefix = strings.Repeat("0", size-len(prefix)) + prefix
		}

		id := fmt.Sprintf("%s_%s", prefix, suffix)
		author := changesetAuthor()
		dir := filepath.Dir(changelogPath)
		filename := id + ".sql"
		fp := filepath.Join(dir, filename)
		revertFilename := id + ".down.sql"

		if *NewFlags.Create {
			if err := os.WriteFile(fp, []byte("-- write your changeset here\n"), 0o660); err != nil {
				return err
			}
			if *NewFlags.Revert {
				body := fmt.Sprintf("-- write the statements that reverse %s here\n", id)
				if err := os.WriteFile(filepath.Join(dir, revertFilename), []byte(body), 0o660); err != nil {
					return err
				}
			}
			if err := appendChangelogEntry(changelogPath, id, author, filename, revertFilename, *NewFlags.Revert); err != nil {
				return err
			}
		}
		if *NewFlags.Bare {
			fmt.Println(fp)
		} else {
			slogger.Info("created", "id", id, "author", author, "path", fp)
		}
		return nil
	},
}

// appendChangelogEntry adds a changeset declaration to the end of the
// changelog document, creating the document if it does not exist. The entry
// is written in the same two-space indentation this command's own documents
// use.
func appendChangelogEntry(path, id, author, filename, revertFilename string, withRevert bool) error {
	entry := fmt.Sprintf("  - changeset:\n      id: %q\n      author: %q\n      file: %s\n", id, author, filename)
	if withRevert {
		entry += fmt.Sprintf("      revertFile: %s\n", revertFilename)
	}
	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, []byte("changelog:\n"+entry), 0o660)
	}
	if err != nil {
		return err
	}
	doc := string(existing)
	if doc != "" && !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	doc += entry
	return os.WriteFile(path, []byte(doc), 0o660)
}

func changesetAuthor() string {
	if *NewFlags.Author != "" {
		return *NewFlags.Author
	}
	if appliedBy := shared.State.AppliedBy(); appliedBy.IsSet() {
		return appliedBy.Value()
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func init() { //nolint:gochecknoinits
	NewFlags.Name = newCmd.Flags().StringP("name", "n", "", "the name of the new changeset (default 'generated')")
	NewFlags.Author = newCmd.Flags().StringP("author", "a", "", "the author of the new changeset (default: --applied-by, then the OS user)")
	NewFlags.Bare = newCmd.Flags().BoolP("bare", "b", false, "if true, only print the created changeset file path")
	NewFlags.Create = newCmd.Flags().Bool("create", false, "if true, write the SQL file and append the changelog entry")
	NewFlags.Revert = newCmd.Flags().Bool("revert", false, "if true, also scaffold a paired rollback file")
}
