package migrations

import "embed"

// Files contains SQL migrations embedded into the binary, named NNN_description.sql
// and applied in lexical order.
//
//go:embed *.sql
var Files embed.FS
