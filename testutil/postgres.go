// Package testutil provides database and Twitch API fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/twitchalert/db"
)

// SetupTestDB creates a migrated sqlite database in a temp directory.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Connect(db.DriverSQLite, filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database, db.DriverSQLite); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupPostgresDB connects to TEST_PG_DSN, migrates and truncates the alert tables.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupPostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(db.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database, db.DriverPostgres); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.ExecContext(ctx, `TRUNCATE team_members, team_subscriptions, streamer_subscriptions, alert_channels, guild_features`); err != nil {
		database.Close()
		t.Fatalf("failed to truncate tables: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
