// Package migrations embeds the schema files so the binary carries its
// own migrations.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
