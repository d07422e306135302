package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newTestSQLiteStore(t *testing.T) *SQLiteAuditStore {
	t.Helper()

	store, err := NewSQLiteAuditStore(newTestSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteAuditStore failed: %v", err)
	}
	return store
}

func TestSQLiteAppendLatest(t *testing.T) {
	exerciseAppendLatest(t, newTestSQLiteStore(t))
}

func TestSQLiteConflict(t *testing.T) {
	exerciseConflict(t, newTestSQLiteStore(t))
}

func TestSQLiteQuery(t *testing.T) {
	exerciseQuery(t, newTestSQLiteStore(t))
}

func TestSQLiteSchemaInitIdempotent(t *testing.T) {
	db := newTestSQLiteDB(t)

	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteAuditStore failed: %v", err)
	}
	id := mustAppend(t, store, testEntry("m1", "order", "o1", "", "paid", "alice", 0), 0)

	// Re-opening against the same database keeps existing rows.
	store2, err := NewSQLiteAuditStore(db)
	if err != nil {
		t.Fatalf("second NewSQLiteAuditStore failed: %v", err)
	}
	got, err := store2.Latest(context.Background(), "m1", "order", "o1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.ID != id {
		t.Fatalf("expected entry %d to survive re-init, got %d", id, got.ID)
	}
}

func TestSQLiteTenants(t *testing.T) {
	stores, err := NewSQLiteTenantStores(newTestSQLiteDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteTenantStores failed: %v", err)
	}
	exerciseTenants(t, stores)
}
