// Package migrations embeds the goose SQL migrations for store/postgres.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
