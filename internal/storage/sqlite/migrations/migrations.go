// Package migrations embeds the SQLite schema for the asset cache store.
package migrations

import "embed"

// FS holds the *.sql migration files applied in filename order.
//
//go:embed *.sql
var FS embed.FS
