package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	authflow "github.com/goliatone/go-authflow"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir = "data/sql/migrations"
)

// RegisterFunc receives the migration directory of one dialect. Hosts
// usually forward fsys to persistence.Client.RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// ForDialect returns the embedded migrations of dialect. Postgres files sit
// at the root of the schema tree, sqlite variants in its sqlite directory.
func ForDialect(dialect string) (fs.FS, error) {
	dir := rootDir
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
	case DialectSQLite:
		dir += "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	fsys, err := fs.Sub(authflow.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	matches, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return fsys, nil
}

// Register hands the migrations of each dialect to registerFn, both
// dialects when none is named.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]string, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}
	registered := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		dialect = strings.ToLower(strings.TrimSpace(dialect))
		if contains(registered, dialect) {
			continue
		}
		fsys, err := ForDialect(dialect)
		if err != nil {
			return registered, err
		}
		if err := registerFn(ctx, dialect, fsys); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
		registered = append(registered, dialect)
	}
	return registered, nil
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
