// Package migrations embeds the schema migration files so the compiled
// binary can bootstrap a fresh database on its own.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
