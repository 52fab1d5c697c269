// Package migrations embeds the SQL schema files applied by db.Migrate.
package migrations

import "embed"

// FS holds every *.sql file, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
