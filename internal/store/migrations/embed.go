// Package migrations embeds the SQL schema migrations applied by goose.
package migrations

import "embed"

// FS holds the ordered goose migration files.
//
//go:embed *.sql
var FS embed.FS
