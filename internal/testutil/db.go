// Package testutil provides shared test fixtures backed by a real sqlite
// database with the production schema applied.
package testutil

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// NewDB opens a temporary sqlite database and applies all migrations.
func NewDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrator := database.NewMigrator(db, zap.NewNop())
	if err := migrator.RunMigrations(migrationsDir(t)); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// migrationsDir locates the repository's migrations directory relative to
// this source file, so tests work from any package directory.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to locate caller for migrations dir")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SeedTenant inserts a tenant and returns its ID.
func SeedTenant(t *testing.T, db *database.DB, alias string, monthlyQuota int) int64 {
	t.Helper()
	result, err := db.Exec(
		`INSERT INTO tenants (name, email_alias, plan, monthly_quota) VALUES (?, ?, 'test', ?)`,
		"Tenant "+alias, alias, monthlyQuota,
	)
	if err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("failed to read tenant id: %v", err)
	}
	return id
}
