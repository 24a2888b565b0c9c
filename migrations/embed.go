// Package migrations embeds the SQL schema so the migrate command and the
// e2e setup do not depend on the working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
