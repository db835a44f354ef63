package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}

func TestSession_RoundTrip(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.LoadSession()
	if err != nil || got != nil {
		t.Fatalf("LoadSession on empty store = %q, %v", got, err)
	}

	if err := store.SaveSession([]byte(`{"access_token":"a"}`)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.SaveSession([]byte(`{"access_token":"b"}`)); err != nil {
		t.Fatalf("SaveSession (replace): %v", err)
	}
	got, err = store.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if string(got) != `{"access_token":"b"}` {
		t.Errorf("LoadSession = %s", got)
	}

	if err := store.ClearSession(); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if got, _ := store.LoadSession(); got != nil {
		t.Errorf("session survived ClearSession: %s", got)
	}
}

func TestLoginAttempts(t *testing.T) {
	store := setupTestStore(t)
	last := time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

	count, _, err := store.GetLoginAttempts("topografo@example.com")
	if err != nil || count != 0 {
		t.Fatalf("GetLoginAttempts(unknown) = %d, %v", count, err)
	}

	if err := store.SaveLoginAttempts("Topografo@Example.com ", 3, last); err != nil {
		t.Fatalf("SaveLoginAttempts: %v", err)
	}
	count, gotLast, err := store.GetLoginAttempts("topografo@example.com")
	if err != nil {
		t.Fatalf("GetLoginAttempts: %v", err)
	}
	if count != 3 || !gotLast.Equal(last) {
		t.Errorf("got %d at %v, want 3 at %v", count, gotLast, last)
	}

	if err := store.ResetLoginAttempts("topografo@example.com"); err != nil {
		t.Fatalf("ResetLoginAttempts: %v", err)
	}
	if count, _, _ := store.GetLoginAttempts("topografo@example.com"); count != 0 {
		t.Errorf("count after reset = %d", count)
	}
}

func TestExports_DedupAndRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte("division,lectura_mira,elv_base_real\n-3,1.250,1885.010\n0,1.180,1885.080\n")

	id, created, err := store.StoreExport(4, "CSV", "lecturas-4.csv", payload)
	if err != nil {
		t.Fatalf("StoreExport: %v", err)
	}
	if !created || id == 0 {
		t.Fatalf("StoreExport = %d, %v", id, created)
	}

	dupID, created, err := store.StoreExport(4, "CSV", "lecturas-4-copy.csv", payload)
	if err != nil {
		t.Fatalf("StoreExport duplicate: %v", err)
	}
	if created || dupID != id {
		t.Errorf("duplicate = %d, %v; want %d, false", dupID, created, id)
	}

	meta, got, err := store.GetExport(id)
	if err != nil {
		t.Fatalf("GetExport: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: %q", got)
	}
	if meta.Filename != "lecturas-4.csv" || meta.SizeBytes != int64(len(payload)) || meta.PublishedAt.Valid {
		t.Errorf("meta = %+v", meta)
	}

	if err := store.MarkExportPublished(id, time.Now()); err != nil {
		t.Fatalf("MarkExportPublished: %v", err)
	}
	list, err := store.ListExports(10)
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(list) != 1 || !list[0].PublishedAt.Valid {
		t.Errorf("ListExports = %+v", list)
	}

	missing, _, err := store.GetExport(999)
	if err != nil || missing != nil {
		t.Errorf("GetExport(missing) = %v, %v", missing, err)
	}
}

func TestCleanupOldExports(t *testing.T) {
	store := setupTestStore(t)
	if _, _, err := store.StoreExport(1, "CSV", "a.csv", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec(`UPDATE exports SET created_at = ?`, time.Now().UTC().AddDate(0, 0, -40)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.StoreExport(1, "CSV", "b.csv", []byte("b")); err != nil {
		t.Fatal(err)
	}

	n, err := store.CleanupOldExports(30)
	if err != nil {
		t.Fatalf("CleanupOldExports: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
