package migrate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/pkg/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestStorageEntriesMigrationContents(t *testing.T) {
	data, err := embedded.ReadFile("migrations/20260301120000_create_storage_entries.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS storage_entries",
		"entry_key VARCHAR(191) NOT NULL PRIMARY KEY",
		"DROP TABLE IF EXISTS storage_entries",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("missing expected statement %q", want)
		}
	}
}

func TestRunUpAndDownOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	if err := Run(ctx, sqlDB, config.DBDriverSQLite, "up"); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if !conn.Migrator().HasTable("storage_entries") {
		t.Fatal("expected storage_entries after up")
	}

	if err := Run(ctx, sqlDB, config.DBDriverSQLite, "down"); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	if conn.Migrator().HasTable("storage_entries") {
		t.Fatal("expected storage_entries dropped after down")
	}

	if err := MigrateToVersion(ctx, sqlDB, config.DBDriverSQLite, "20260301120000"); err != nil {
		t.Fatalf("migrate to version failed: %v", err)
	}
	if !conn.Migrator().HasTable("storage_entries") {
		t.Fatal("expected storage_entries after migrating to version")
	}
}

func TestRunRejectsUnknownDriver(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := conn.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := Run(context.Background(), sqlDB, "oracle", "up"); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if err := Run(context.Background(), nil, config.DBDriverSQLite, "up"); err == nil {
		t.Fatal("expected nil db error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Cart Owner!", now)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.HasSuffix(path, "20260302093000_add_cart_owner.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "Add Cart Owner!", now); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
	if _, err := CreateSQLMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected empty sanitized name to fail")
	}
}
