// Package migrations embeds the SQL schema migrations for the veil.db
// store, consumed through golang-migrate's iofs source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
