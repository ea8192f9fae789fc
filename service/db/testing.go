package db

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestStore creates a Store backed by the database named in TEST_DATABASE_URL
// and skips the test when the variable is unset. Migrations are applied
// before the store is returned.
func TestStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	if err := Migrate(databaseURL); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewStore(pool)
}

// TruncateAll clears the mutable tables between tests. dim_activity_types
// is seeded by migrations and left alone.
func TruncateAll(t *testing.T, store *Store) {
	t.Helper()

	_, err := store.pool.Exec(context.Background(), `
		TRUNCATE asset_json_feed, activity_feed, assets, ingest_metadata
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
