package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Storage.Backend != StorageBackendMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Engine.MaxInflight != 8 {
		t.Fatalf("expected max inflight 8, got %d", cfg.Engine.MaxInflight)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Fatalf("expected remote timeout 10s, got %v", cfg.Remote.Timeout)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled without url or address")
	}
}

func TestLoad_SQLBuildsDSN(t *testing.T) {
	t.Setenv(EnvStorageBackend, StorageBackendSQL)
	t.Setenv(EnvDBHost, "db.local")
	t.Setenv(EnvDBUser, "cart")
	t.Setenv(EnvDBName, "carts")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !strings.HasPrefix(cfg.DB.DSN, "postgres://cart:@db.local:5432/carts") {
		t.Fatalf("unexpected dsn %q", cfg.DB.DSN)
	}
	if !strings.Contains(cfg.DB.DSN, "sslmode=disable") {
		t.Fatalf("expected sslmode in dsn %q", cfg.DB.DSN)
	}
}

func TestLoad_SQLiteRequiresDSN(t *testing.T) {
	t.Setenv(EnvStorageBackend, StorageBackendSQL)
	t.Setenv(EnvDBDriver, DBDriverSQLite)

	if _, err := Load(); err == nil {
		t.Fatal("expected sqlite without dsn to fail")
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv(EnvStorageBackend, "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected unsupported backend to fail")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CARTSYNC_REMOTE_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}

func TestRemoteEndpoint(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"http://shop.local", "/api/cart/", "http://shop.local/api/cart/"},
		{"http://shop.local/", "api/cart", "http://shop.local/api/cart/"},
		{"http://shop.local", "", "http://shop.local/"},
	}
	for _, tc := range cases {
		got := RemoteConfig{BaseURL: tc.base, CartPath: tc.path}.Endpoint()
		if got != tc.want {
			t.Fatalf("Endpoint(%q,%q) = %q, want %q", tc.base, tc.path, got, tc.want)
		}
	}
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() || devConfig.IsProd() {
		t.Fatalf("unexpected helpers for %q", devConfig.Env)
	}
	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() || prodConfig.IsDev() {
		t.Fatalf("unexpected helpers for %q", prodConfig.Env)
	}
}
