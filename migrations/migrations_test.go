package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func TestSourceServesBothDialects(t *testing.T) {
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		versions, err := Versions(dialect)
		if err != nil {
			t.Fatalf("%s versions: %v", dialect, err)
		}
		if len(versions) == 0 || versions[0] != "00001_order_hub_core_schema" {
			t.Fatalf("%s: unexpected versions %v", dialect, versions)
		}
		src, err := Source(dialect)
		if err != nil {
			t.Fatalf("%s source: %v", dialect, err)
		}
		content, err := fs.ReadFile(src, versions[0]+".up.sql")
		if err != nil || strings.TrimSpace(string(content)) == "" {
			t.Fatalf("%s: expected core schema content, err %v", dialect, err)
		}
	}
	if _, err := Source("mysql"); err == nil {
		t.Fatalf("expected unknown dialect to fail")
	}
}

func TestVersionsRequireDownMigrations(t *testing.T) {
	tree := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00001_a.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00002_b.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := sourceIn(tree, DialectPostgres); err == nil || !strings.Contains(err.Error(), "00002_b.up.sql") {
		t.Fatalf("expected missing down file to be reported, got %v", err)
	}
	if _, err := sourceIn(tree, DialectSQLite); err != nil {
		t.Fatalf("sqlite tree: %v", err)
	}
	if _, err := sourceIn(fstest.MapFS{"data/sql/migrations/sqlite/readme.md": {}}, DialectSQLite); err == nil {
		t.Fatalf("expected empty directory to fail")
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"sqlite3":  DialectSQLite,
		" SQLite ": DialectSQLite,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %q: got %q, %v; want %q", driver, got, err, want)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected mysql to be rejected")
	}
}

func TestApplyRequiresClient(t *testing.T) {
	if err := Apply(context.Background(), nil, "sqlite3"); err == nil {
		t.Fatalf("expected nil client to fail")
	}
}

func TestSQLiteCoreSchemaEnforcesDedupAndRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-core-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	src, err := Source(DialectSQLite)
	if err != nil {
		t.Fatalf("sqlite source: %v", err)
	}
	run := func(name string) {
		t.Helper()
		content, err := fs.ReadFile(src, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			t.Fatalf("exec %s: %v", name, err)
		}
	}
	run("00001_order_hub_core_schema.up.sql")

	insert := `INSERT INTO hub_webhook_events (id, provider, dedup_key, status) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "evt_1", "acme", "acme:1", "RECEIVED"); err != nil {
		t.Fatalf("insert first event: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "evt_2", "acme", "acme:1", "RECEIVED"); err == nil {
		t.Fatalf("expected duplicate dedup key to be rejected")
	}
	if _, err := db.ExecContext(ctx, insert, "evt_3", "acme", "acme:3", "LOST"); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}

	mapping := `INSERT INTO hub_branch_mappings (id, provider, external_branch_id, branch_id) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, mapping, "m1", "acme", "BR-1", "branch_1"); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}
	if _, err := db.ExecContext(ctx, mapping, "m2", "acme", "BR-1", "branch_2"); err == nil {
		t.Fatalf("expected duplicate branch mapping to be rejected")
	}

	run("00001_order_hub_core_schema.down.sql")
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'hub_%'`,
	).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected hub tables to be dropped, found %d", count)
	}
}
