package migrations

import "embed"

// FS holds the per-dialect schema folders (postgres, mysql, sqlite3).
//
//go:embed postgres mysql sqlite3
var FS embed.FS
