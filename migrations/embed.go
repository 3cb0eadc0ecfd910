// Package migrations содержит SQL схему, встроенную в бинарники.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
