package authflow

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the user session and auth event schema. SQLite
// variants live under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
