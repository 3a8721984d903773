package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hackgods/clinic-booking/internal/config"
)

func TestOpenSQLite(t *testing.T) {
	cfg := config.Config{
		StorageDriver: config.DriverSQLite,
		SQLitePath:    filepath.Join(t.TempDir(), "data", "clinic.db"),
	}

	store, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if store.Driver != config.DriverSQLite {
		t.Errorf("driver: %q", store.Driver)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
	if _, err := store.ListDoctors(context.Background()); err != nil {
		t.Errorf("schema not applied: %v", err)
	}
}

func TestOpenFallsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := config.Config{
		StorageDriver:   config.DriverMySQL,
		MySQLDSN:        "clinic:clinic@tcp(127.0.0.1:1)/clinic?timeout=500ms",
		StorageFallback: config.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "clinic.db"),
	}

	store, err := Open(ctx, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if store.Driver != config.DriverSQLite {
		t.Errorf("driver: got %q, want fallback", store.Driver)
	}
}

func TestOpenWithoutFallbackFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := config.Config{
		StorageDriver: config.DriverMySQL,
		MySQLDSN:      "clinic:clinic@tcp(127.0.0.1:1)/clinic?timeout=500ms",
	}
	if _, err := Open(ctx, cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error")
	}
}
