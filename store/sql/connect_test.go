package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-order-hub/core"
	sqlstore "github.com/goliatone/go-order-hub/store/sql"
)

func TestOpenSQLiteClient(t *testing.T) {
	client, err := sqlstore.Open(core.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    fmt.Sprintf("file:order-hub-open-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}, "order-hub-tests")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenRejectsUnknownDriverAndEmptyDSN(t *testing.T) {
	if _, err := sqlstore.Open(core.DatabaseConfig{Driver: "oracle", DSN: "x"}, ""); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
	if _, err := sqlstore.Open(core.DatabaseConfig{Driver: "sqlite3"}, ""); err == nil {
		t.Fatalf("expected empty dsn to fail")
	}
}

func TestPersistenceConfigDefaults(t *testing.T) {
	cfg := sqlstore.PersistenceConfig{Database: core.DatabaseConfig{Driver: " pgx "}}
	if cfg.GetDriver() != "pgx" {
		t.Fatalf("unexpected driver %q", cfg.GetDriver())
	}
	if cfg.GetPingTimeout() != 5*time.Second {
		t.Fatalf("unexpected ping timeout %s", cfg.GetPingTimeout())
	}
	if cfg.GetOtelIdentifier() != "go-order-hub" {
		t.Fatalf("unexpected otel identifier %q", cfg.GetOtelIdentifier())
	}
}
