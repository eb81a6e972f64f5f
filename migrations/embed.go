// Package migrations holds the gateway schema as golang-migrate SQL pairs.
package migrations

import "embed"

// FS contains every *.up.sql and *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
