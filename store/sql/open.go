package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-authflow/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	defaultPingTimeout = 5 * time.Second
	defaultOtelName    = "go-authflow"
)

// ConnectionConfig satisfies the go-persistence-bun configuration contract.
type ConnectionConfig struct {
	Driver         string        `koanf:"driver" mapstructure:"driver"`
	DSN            string        `koanf:"dsn" mapstructure:"dsn"`
	Debug          bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout    time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	OtelIdentifier string        `koanf:"otel_identifier" mapstructure:"otel_identifier"`
	// MaxOpenConns is forced to 1 for in-memory sqlite when left at zero.
	MaxOpenConns int `koanf:"max_open_conns" mapstructure:"max_open_conns"`
}

func (c ConnectionConfig) GetDebug() bool {
	return c.Debug
}

func (c ConnectionConfig) GetDriver() string {
	return c.normalizedDriver()
}

func (c ConnectionConfig) GetServer() string {
	return c.DSN
}

func (c ConnectionConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return c.PingTimeout
}

func (c ConnectionConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return defaultOtelName
	}
	return c.OtelIdentifier
}

func (c ConnectionConfig) normalizedDriver() string {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return strings.ToLower(strings.TrimSpace(c.Driver))
	}
}

func (c ConnectionConfig) migrationDialect() string {
	if c.normalizedDriver() == DriverPostgres {
		return migrations.DialectPostgres
	}
	return migrations.DialectSQLite
}

func (c ConnectionConfig) dialect() (schema.Dialect, error) {
	switch c.normalizedDriver() {
	case DriverPostgres:
		return pgdialect.New(), nil
	case DriverSQLite:
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", c.Driver)
	}
}

// Open connects with cfg and registers the authflow migrations for the
// matching dialect. Call Migrate on the returned client to apply them.
func Open(ctx context.Context, cfg ConnectionConfig) (*persistence.Client, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	dialect, err := cfg.dialect()
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.normalizedDriver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.normalizedDriver(), err)
	}
	switch {
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	case cfg.normalizedDriver() == DriverSQLite && strings.Contains(cfg.DSN, "mode=memory"):
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, cfg.migrationDialect())
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// OpenAndMigrate opens the connection and applies pending migrations.
func OpenAndMigrate(ctx context.Context, cfg ConnectionConfig) (*persistence.Client, error) {
	client, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}
