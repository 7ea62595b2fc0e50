// Package migrations embeds the cache storage schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
