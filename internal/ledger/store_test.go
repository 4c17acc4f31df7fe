package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"signal-trader/pkg/db"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty store failed: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("expected empty state, got %d marks", empty.Len())
	}

	s := make(State)
	s.Add(1234567890, 10)
	s.Add(1234567890, 11)
	s.Add(42, 7)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if a, ok := store.(Appender); ok {
		if err := a.Append(ctx, 42, 8); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		s.Add(42, 8)
	}
	if r, ok := store.(Remover); ok {
		if err := r.Remove(ctx, 1234567890, 10); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		s.Remove(1234567890, 10)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Len() != s.Len() {
		t.Fatalf("expected %d marks, got %d", s.Len(), got.Len())
	}
	for ch, set := range s {
		for id := range set {
			if !got.Has(ch, id) {
				t.Errorf("missing mark %d/%d", ch, id)
			}
		}
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_message_ids.json")
	exerciseStore(t, NewFileStore(path))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}
	if len(data) == 0 || data[0] != '{' {
		t.Errorf("expected JSON object, got %q", data)
	}
}

func TestFileStoreReadsLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_message_ids.json")
	legacy := `{"1234567890": [5, 6], "99": [1]}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !s.Has(1234567890, 6) || !s.Has(99, 1) || s.Len() != 3 {
		t.Errorf("unexpected state: %v", s.Sorted())
	}
}

func TestJournalStore(t *testing.T) {
	dir := t.TempDir()
	js, err := NewJournalStore(dir)
	if err != nil {
		t.Fatalf("NewJournalStore failed: %v", err)
	}
	exerciseStore(t, js)
	js.Close()

	// Reopen and replay snapshot + journal.
	reopened, err := NewJournalStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	s, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !s.Has(42, 8) || s.Has(1234567890, 10) {
		t.Errorf("unexpected replayed state: %v", s.Sorted())
	}
}

func TestJournalStoreCompacts(t *testing.T) {
	ctx := context.Background()
	js, err := NewJournalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer js.Close()
	js.compactEvery = 5

	for i := int64(1); i <= 12; i++ {
		if err := js.Append(ctx, 1, i); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if m := js.Metrics(); m.Compactions < 2 || m.Appended != 12 {
		t.Errorf("unexpected metrics: %+v", m)
	}
	s, _ := js.Load(ctx)
	if s.Len() != 12 {
		t.Errorf("expected 12 marks after compaction, got %d", s.Len())
	}
}

func TestSQLiteStore(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	exerciseStore(t, NewSQLiteStore(database))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	rs, err := NewRedisStore(url, "signal-trader-test:"+t.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	rs.Save(context.Background(), make(State))
	exerciseStore(t, rs)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ps, err := NewPostgresStore(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Close()
	ps.Save(context.Background(), make(State))
	exerciseStore(t, ps)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, _, err := Open(context.Background(), Options{Backend: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
