package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestOpenAndClose(t *testing.T) {
	db := testDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='users'").Scan(&count)
	if err != nil {
		t.Fatalf("checking users table: %v", err)
	}
	if count != 1 {
		t.Error("expected users table to exist after Open")
	}
}

func TestTransaction(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	err = db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO test (id, name) VALUES (1, 'alice')")
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO test (id, name) VALUES (2, 'bob')")
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT UNIQUE)")
	if err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	err = db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec("INSERT INTO test (id, name) VALUES (1, 'alice')")
		if err != nil {
			return err
		}
		_, err = tx.Exec("INSERT INTO test (id, name) VALUES (2, 'alice')")
		return err
	})
	if err == nil {
		t.Fatal("expected transaction to fail")
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows after rollback, got %d", count)
	}
}

func TestScanRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT, active INTEGER)")
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO test VALUES (1, 'alice', 1), (2, 'bob', 0)")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM test ORDER BY id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	results, err := ScanRows(rows)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}

	if results[0]["name"] != "alice" {
		t.Errorf("expected 'alice', got %v", results[0]["name"])
	}
}

func init() {
	os.Setenv("TZ", "UTC")
}
