// Package migrations embeds the SQL applied by "hms-server migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
