package instancesettings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(&config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_SetGetList(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	if _, err := store.Get(ctx, "instance_title"); !errors.Is(err, ErrSettingNotFound) {
		t.Fatalf("expected ErrSettingNotFound before any value is set, got %v", err)
	}

	if err := store.Set(ctx, "instance_title", "Acme Relay"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err := store.Get(ctx, "instance_title")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "Acme Relay" {
		t.Errorf("expected %q, got %q", "Acme Relay", value)
	}

	// Set again replaces the value rather than erroring on a duplicate key.
	if err := store.Set(ctx, "instance_title", "New Name"); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}
	value, err = store.Get(ctx, "instance_title")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if value != "New Name" {
		t.Errorf("expected the overwritten value %q, got %q", "New Name", value)
	}

	if err := store.Set(ctx, "logo_url", "https://example.com/logo.png"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all["instance_title"] != "New Name" || all["logo_url"] != "https://example.com/logo.png" {
		t.Errorf("unexpected listed settings: %+v", all)
	}
}
