package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.db")
	database, err := Connect(DriverSQLite, path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, database, DriverSQLite); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}

	tables := []string{"guild_features", "alert_channels", "streamer_subscriptions", "team_subscriptions", "team_members"}
	for _, table := range tables {
		var name string
		err := database.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=$1`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migrate: %v", table, err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected sqlite file to be created: %v", err)
	}
}

func TestConnectUnknownDriver(t *testing.T) {
	if _, err := Connect("mysql", "whatever"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestConnectSQLiteRequiresDSN(t *testing.T) {
	if _, err := Connect(DriverSQLite, ""); err == nil {
		t.Fatalf("expected error for empty sqlite dsn")
	}
}

func TestSchemasHaveSameTables(t *testing.T) {
	if len(postgresSchema) != len(sqliteSchema) {
		t.Fatalf("dialect schemas diverged: postgres=%d sqlite=%d statements", len(postgresSchema), len(sqliteSchema))
	}
}
