// Package migrations exposes the embedded hub schema for each supported SQL
// dialect and applies it through a persistence client.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	orderhub "github.com/goliatone/go-order-hub"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	root = "data/sql/migrations"
)

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx", "pgx/v5", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Source returns the migration directory for dialect. Postgres files live
// at the root of the tree and sqlite files in a sqlite/ subdirectory.
func Source(dialect string) (fs.FS, error) {
	return sourceIn(orderhub.GetMigrationsFS(), dialect)
}

func sourceIn(tree fs.FS, dialect string) (fs.FS, error) {
	dir := root
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir = path.Join(root, "sqlite")
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
	sub, err := fs.Sub(tree, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	if _, err := versionsIn(sub); err != nil {
		return nil, fmt.Errorf("migrations: %s: %w", dialect, err)
	}
	return sub, nil
}

// Versions lists the migration versions for dialect in apply order.
func Versions(dialect string) ([]string, error) {
	src, err := Source(dialect)
	if err != nil {
		return nil, err
	}
	return versionsIn(src)
}

// versionsIn requires every up file to have a matching down file.
func versionsIn(src fs.FS) ([]string, error) {
	ups, err := fs.Glob(src, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(src, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("%s has no down migration", up)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

// Apply registers the schema for driver on client and migrates up.
func Apply(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("migrations: persistence client is required")
	}
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return err
	}
	src, err := Source(dialect)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(src)
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: migrate %s: %w", dialect, err)
	}
	return nil
}
