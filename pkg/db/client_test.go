package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/angelmondragon/cartsync/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db, config.DBDriverSQLite)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	client := Wrap(newTestDB(t), config.DBDriverSQLite)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNew_SQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite, DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if client.Driver() != config.DBDriverSQLite {
		t.Fatalf("unexpected driver %q", client.Driver())
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: "mysql", DSN: "x"}, nil); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite}, nil); err == nil {
		t.Fatal("expected missing dsn error")
	}
}

func TestDialectorForPostgresDrivers(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		config.PGDriverPgx: "",
		config.PGDriverPq:  "postgres",
	}
	for pgDriver, wantName := range cases {
		d, driver, err := dialectorFor(config.DBConfig{Driver: config.DBDriverPostgres, PGDriver: pgDriver, DSN: "postgres://x"})
		if err != nil {
			t.Fatalf("%q: unexpected error %v", pgDriver, err)
		}
		if driver != config.DBDriverPostgres {
			t.Fatalf("%q: unexpected driver %q", pgDriver, driver)
		}
		pg, ok := d.(*postgres.Dialector)
		if !ok {
			t.Fatalf("%q: unexpected dialector %T", pgDriver, d)
		}
		if pg.DriverName != wantName {
			t.Fatalf("%q: expected driver name %q, got %q", pgDriver, wantName, pg.DriverName)
		}
	}

	if _, _, err := dialectorFor(config.DBConfig{Driver: config.DBDriverPostgres, PGDriver: "odbc", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported postgres driver error")
	}
}

func TestIsNotFound(t *testing.T) {
	db := newTestDB(t)
	var m testModel
	err := db.First(&m, "name = ?", "missing").Error
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if IsNotFound(errors.New("other")) {
		t.Fatal("plain error should not be treated as not found")
	}
}
