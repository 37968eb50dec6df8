package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
)

func testStore(t *testing.T) *Store {
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

	return NewStore(db)
}

func TestStore_LogAndList(t *testing.T) {
	store := testStore(t)

	if err := store.Log(t.Context(), ActionShareCreated, "user-1", "", "share-1",
		map[string]any{"path": "notes.md"}, "127.0.0.1", "test-agent"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := store.Log(t.Context(), ActionUserLogin, "user-1", "", "", nil, "127.0.0.1", "test-agent"); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := store.ListEntries(t.Context(), Filter{ActorUserID: "user-1"})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != ActionUserLogin {
		t.Errorf("expected newest-first ordering, got %q first", entries[0].Action)
	}
}

func TestStore_ListEntries_FiltersByAction(t *testing.T) {
	store := testStore(t)

	if err := store.Log(t.Context(), ActionShareCreated, "user-2", "", "share-2", nil, "", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := store.Log(t.Context(), ActionShareDeleted, "user-2", "", "share-2", nil, "", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := store.ListEntries(t.Context(), Filter{Action: ActionShareDeleted})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != ActionShareDeleted {
		t.Errorf("expected exactly one share_deleted entry, got %+v", entries)
	}
}

func TestStore_ListEntries_DetailsRoundTrip(t *testing.T) {
	store := testStore(t)

	if err := store.Log(t.Context(), ActionInviteCreated, "user-3", "", "share-3",
		map[string]any{"role": "editor", "max_uses": float64(5)}, "", ""); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := store.ListEntries(t.Context(), Filter{TargetShareID: "share-3"})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Details["role"] != "editor" {
		t.Errorf("expected details to round-trip, got %+v", entries[0].Details)
	}
}

func TestStore_ListEntries_PaginatesWithLimitAndOffset(t *testing.T) {
	store := testStore(t)

	for i := 0; i < 5; i++ {
		if err := store.Log(t.Context(), ActionUserLogin, "user-4", "", "", nil, "", ""); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	page1, err := store.ListEntries(t.Context(), Filter{ActorUserID: "user-4", Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("ListEntries page1: %v", err)
	}
	page2, err := store.ListEntries(t.Context(), Filter{ActorUserID: "user-4", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListEntries page2: %v", err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("expected 2 entries per page, got %d and %d", len(page1), len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Error("expected distinct entries across pages")
	}
}
