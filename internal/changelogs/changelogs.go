// changelogs contains example changelog data that is used in tests.
package changelogs

import "embed"

// FS is an embedded filesystem with an example changelog document at its
// root: a file-backed changeset, an inline one, and an included auth/
// sub-changelog.
//
//go:embed changelog.yaml *.sql auth
var FS embed.FS
