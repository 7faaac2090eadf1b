// Package migrations embeds the goose SQL migrations so tests can apply the
// schema without locating the directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
