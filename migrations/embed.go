// Package migrations holds the SQL schema applied by `syncer migrate`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
