package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// PersistenceConfig exposes the hub database section through the getters
// go-persistence-bun expects.
type PersistenceConfig struct {
	Database    core.DatabaseConfig
	ServiceName string
}

func (c PersistenceConfig) GetDebug() bool {
	return c.Database.Debug
}

func (c PersistenceConfig) GetDriver() string {
	return strings.TrimSpace(c.Database.Driver)
}

func (c PersistenceConfig) GetServer() string {
	return c.Database.DSN
}

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.Database.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.Database.PingTimeout
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	if name := strings.TrimSpace(c.ServiceName); name != "" {
		return name
	}
	return "go-order-hub"
}

// Open connects to the configured database and wraps it in a persistence
// client. The database/sql driver must already be registered by the caller.
// sqlite connections are pinned to a single connection.
func Open(cfg core.DatabaseConfig, serviceName string) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Driver)
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: database dsn is required")
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if _, ok := dialect.(*sqlitedialect.Dialect); ok {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(PersistenceConfig{Database: cfg, ServiceName: serviceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: persistence client: %w", err)
	}
	return client, nil
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "pgx/v5", "postgres", "postgresql":
		return pgdialect.New(), nil
	case "sqlite3", "sqlite":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}
