package sqledger

import (
	"bytes"
	"fmt"
	"io/fs"
	pathpkg "path"

	"gopkg.in/yaml.v3"
)

// Changelog is the ordered, append-only list of changesets declared by a
// changelog document and everything it includes. The order of Changesets is
// the traversal order: includes are expanded depth-first at the point of
// declaration.
type Changelog struct {
	// Path is the root document this changelog was loaded from.
	Path       string
	Changesets []Changeset
}

// Find returns the changeset with the given identity, or nil. A nil changelog
// finds nothing.
func (c *Changelog) Find(id, author string) *Changeset {
	if c == nil {
		return nil
	}
	for i := range c.Changesets {
		if c.Changesets[i].ID == id && c.Changesets[i].Author == author {
			return &c.Changesets[i]
		}
	}
	return nil
}

// Keys returns the identity keys of all changesets in declaration order.
func (c *Changelog) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Changesets))
	for i := range c.Changesets {
		keys = append(keys, c.Changesets[i].Key())
	}
	return keys
}

// LoadChangelog reads the changelog document at path within fsys and returns
// the changesets it declares, in declaration order. Use an [embed.FS] to
// bundle changelogs into your binary, or [os.DirFS] to read from disk.
//
// A document is a YAML mapping with a single `changelog` key holding a list
// of entries. Each entry is either
//
//	- changeset:
//	    id: 0001_create_users
//	    author: ana
//	    apply: |        # inline SQL, or `file:` referencing a .sql file
//	      CREATE TABLE users (id bigint PRIMARY KEY);
//	    revert: |       # optional, or `revertFile:`
//	      DROP TABLE users;
//	    preconditions:  # optional
//	      - query: SELECT count(*) FROM users
//	        expect: "0"
//	        onFail: halt   # halt (default) | skip | warn
//
// or an include of another document, resolved relative to the including file:
//
//	- include: auth/changelog.yaml
//
// Loading is read-only and touches no database. Structural problems are
// reported as a [*MalformedChangelogError]: duplicate (id, author) pairs,
// include cycles, unresolved file references, entries that are neither a
// changeset nor an include, and changesets missing an id, author, or body.
func LoadChangelog(fsys fs.FS, path string) (*Changelog, error) {
	ld := &loader{
		fsys:     fsys,
		seen:     map[string]string{},
		visiting: map[string]bool{},
	}
	if err := ld.load(pathpkg.Clean(path)); err != nil {
		return nil, err
	}
	return &Changelog{Path: pathpkg.Clean(path), Changesets: ld.out}, nil
}

// changelogDoc is the YAML shape of one changelog file.
type changelogDoc struct {
	Entries []changelogEntry `yaml:"changelog"`
}

type changelogEntry struct {
	Changeset *changesetNode `yaml:"changeset"`
	Include   string         `yaml:"include"`
}

type changesetNode struct {
	ID            string             `yaml:"id"`
	Author        string             `yaml:"author"`
	Apply         string             `yaml:"apply"`
	File          string             `yaml:"file"`
	Revert        string             `yaml:"revert"`
	RevertFile    string             `yaml:"revertFile"`
	Preconditions []preconditionNode `yaml:"preconditions"`
}

type preconditionNode struct {
	Query  string `yaml:"query"`
	Expect string `yaml:"expect"`
	OnFail string `yaml:"onFail"`
}

type loader struct {
	fsys fs.FS
	// seen maps changeset key -> path of first declaration, for duplicate
	// detection across included documents.
	seen map[string]string
	// visiting holds the current include stack for cycle detection.
	visiting map[string]bool
	out      []Changeset
}

func (ld *loader) load(path string) error {
	if ld.visiting[path] {
		return &MalformedChangelogError{
			Path:   path,
			Detail: "include cycle: document is already being loaded",
		}
	}
	ld.visiting[path] = true
	defer delete(ld.visiting, path)

	raw, err := fs.ReadFile(ld.fsys, path)
	if err != nil {
		return &MalformedChangelogError{Path: path, Detail: "cannot read changelog", Err: err}
	}
	var doc changelogDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return &MalformedChangelogError{Path: path, Detail: "invalid yaml", Err: err}
	}

	dir := pathpkg.Dir(path)
	for i, entry := range doc.Entries {
		switch {
		case entry.Changeset != nil && entry.Include != "":
			return &MalformedChangelogError{
				Path:   path,
				Detail: fmt.Sprintf("entry %d is both a changeset and an include", i+1),
			}
		case entry.Include != "":
			if err := ld.load(pathpkg.Clean(pathpkg.Join(dir, entry.Include))); err != nil {
				return err
			}
		case entry.Changeset != nil:
			cs, err := ld.resolve(path, dir, i+1, entry.Changeset)
			if err != nil {
				return err
			}
			ld.out = append(ld.out, cs)
		default:
			return &MalformedChangelogError{
				Path:   path,
				Detail: fmt.Sprintf("entry %d is neither a changeset nor an include", i+1),
			}
		}
	}
	return nil
}

func (ld *loader) resolve(path, dir string, ordinal int, node *changesetNode) (Changeset, error) {
	fail := func(detail string, err error) (Changeset, error) {
		return Changeset{}, &MalformedChangelogError{Path: path, Detail: detail, Err: err}
	}
	if node.ID == "" || node.Author == "" {
		return fail(fmt.Sprintf("entry %d: changeset needs both an id and an author", ordinal), nil)
	}
	key := changesetKey(node.ID, node.Author)
	if first, ok := ld.seen[key]; ok {
		return fail(fmt.Sprintf("duplicate changeset %s (first declared in %s)", key, first), nil)
	}

	cs := Changeset{
		ID:     node.ID,
		Author: node.Author,
		Apply:  node.Apply,
		Revert: node.Revert,
		Source: path,
	}
	switch {
	case node.Apply != "" && node.File != "":
		return fail(fmt.Sprintf("changeset %s declares both apply and file", key), nil)
	case node.File != "":
		ref := pathpkg.Clean(pathpkg.Join(dir, node.File))
		body, err := fs.ReadFile(ld.fsys, ref)
		if err != nil {
			return fail(fmt.Sprintf("changeset %s: cannot read %s", key, ref), err)
		}
		cs.Apply = string(body)
		cs.Source = ref
	case node.Apply == "":
		return fail(fmt.Sprintf("changeset %s has no apply body", key), nil)
	}
	switch {
	case node.Revert != "" && node.RevertFile != "":
		return fail(fmt.Sprintf("changeset %s declares both revert and revertFile", key), nil)
	case node.RevertFile != "":
		ref := pathpkg.Clean(pathpkg.Join(dir, node.RevertFile))
		body, err := fs.ReadFile(ld.fsys, ref)
		if err != nil {
			return fail(fmt.Sprintf("changeset %s: cannot read %s", key, ref), err)
		}
		cs.Revert = string(body)
	}
	for j, pn := range node.Preconditions {
		if pn.Query == "" {
			return fail(fmt.Sprintf("changeset %s: precondition %d has no query", key, j+1), nil)
		}
		policy := OnFailPolicy(pn.OnFail)
		switch policy {
		case "", OnFailHalt, OnFailSkip, OnFailWarn:
		default:
			return fail(fmt.Sprintf("changeset %s: precondition %d has unknown onFail %q", key, j+1, pn.OnFail), nil)
		}
		cs.Preconditions = append(cs.Preconditions, Precondition{
			Query:  pn.Query,
			Expect: pn.Expect,
			OnFail: policy,
		})
	}

	ld.seen[key] = path
	return cs, nil
}
