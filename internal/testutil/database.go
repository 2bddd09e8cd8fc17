package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/earthring/zoneselect/internal/config"
	_ "github.com/lib/pq"
)

// TestDBConfig returns the PostgreSQL settings for integration tests, read
// from TEST_DB_* variables.
func TestDBConfig() config.DatabaseConfig {
	port, err := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if err != nil {
		port = 5432
	}
	return config.DatabaseConfig{
		Host:           envOr("TEST_DB_HOST", "localhost"),
		Port:           port,
		User:           envOr("TEST_DB_USER", "postgres"),
		Password:       envOr("TEST_DB_PASSWORD", "postgres"),
		Database:       envOr("TEST_DB_NAME", "zoneselect_test"),
		SSLMode:        envOr("TEST_DB_SSLMODE", "disable"),
		MaxConnections: 2,
		MaxIdleConns:   1,
	}
}

// SetupTestDB connects to the test database, creating it on first use. The
// test is skipped when PostgreSQL is not reachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := TestDBConfig()

	admin := cfg
	admin.Database = "postgres"
	adminDB, err := sql.Open("postgres", admin.DatabaseURL())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	defer adminDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := adminDB.PingContext(ctx); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	if _, err := adminDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", cfg.Database)); err != nil {
		t.Logf("create %s: %v (may already exist)", cfg.Database, err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("ping test database: %v", err)
	}
	return db
}

// CloseDB closes db when the test finishes.
func CloseDB(t *testing.T, db *sql.DB) {
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("close test database: %v", err)
		}
	})
}

// CleanupTestDB drops the zones and selections tables.
func CleanupTestDB(t *testing.T, db *sql.DB) {
	for _, table := range []string{"selections", "zones"} {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE"); err != nil {
			t.Logf("drop %s: %v", table, err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
