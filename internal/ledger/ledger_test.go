package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// flakyStore fails every persistence call while failing is set.
type flakyStore struct {
	MemoryStore
	failing atomic.Bool
	appends atomic.Int32
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: MemoryStore{state: make(State)}}
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) Save(ctx context.Context, s State) error {
	if f.failing.Load() {
		return errDiskFull
	}
	return f.MemoryStore.Save(ctx, s)
}

func (f *flakyStore) Append(ctx context.Context, channel, id int64) error {
	if f.failing.Load() {
		return errDiskFull
	}
	f.appends.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Add(channel, id)
	return nil
}

func TestClaimIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())
	if err := l.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	claimed, err := l.Claim(ctx, 1, 100)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to win, got claimed=%v err=%v", claimed, err)
	}
	claimed, err = l.Claim(ctx, 1, 100)
	if err != nil || claimed {
		t.Fatalf("expected second claim to lose, got claimed=%v err=%v", claimed, err)
	}
	if !l.IsProcessed(1, 100) {
		t.Error("message should be processed")
	}
	if l.IsProcessed(2, 100) {
		t.Error("same id on another channel must not be processed")
	}
	if err := l.MarkProcessed(ctx, 1, 100); err != nil {
		t.Errorf("MarkProcessed on marked id should be a no-op, got %v", err)
	}
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Claim(ctx, 7, 42); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", got)
	}
}

func TestPersistFailureKeepsMarkAcrossReload(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	l := New(store)

	var reported atomic.Int32
	l.OnPersistError = func(error) { reported.Add(1) }

	store.failing.Store(true)
	claimed, err := l.Claim(ctx, 1, 5)
	if !claimed {
		t.Fatal("claim must succeed in memory even when persistence fails")
	}
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected errDiskFull, got %v", err)
	}
	if reported.Load() != 1 {
		t.Errorf("expected 1 persist report, got %d", reported.Load())
	}

	// The store still does not know the id, but a reload must not forget it.
	store.failing.Store(false)
	if err := l.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !l.IsProcessed(1, 5) {
		t.Fatal("mark lost after reload")
	}
	if _, pending := l.Stats(); pending != 0 {
		t.Errorf("expected pending cleared after successful re-persist, got %d", pending)
	}

	persisted, _ := store.Load(ctx)
	if !persisted.Has(1, 5) {
		t.Error("pending mark should have been written on reload")
	}
}

func TestReloadWhileStoreStillFailing(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	l := New(store)

	store.failing.Store(true)
	l.Claim(ctx, 3, 9)

	if err := l.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !l.IsProcessed(3, 9) {
		t.Fatal("mark lost after reload")
	}
	if _, pending := l.Stats(); pending != 1 {
		t.Errorf("expected 1 pending mark, got %d", pending)
	}
}

func TestReloadPicksUpExternalMarks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store)
	l.Load(ctx)

	external := make(State)
	external.Add(1, 11)
	store.Save(ctx, external)

	if l.IsProcessed(1, 11) {
		t.Fatal("mark should not be visible before reload")
	}
	l.Reload(ctx)
	if !l.IsProcessed(1, 11) {
		t.Fatal("expected mark after reload")
	}
}

func TestSeedAndUnmark(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	l := New(store)

	n, err := l.Seed(ctx, 1, []int64{1, 2, 3})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 seeded, got %d (err %v)", n, err)
	}
	n, _ = l.Seed(ctx, 1, []int64{3, 4})
	if n != 1 {
		t.Errorf("expected 1 new id, got %d", n)
	}

	if err := l.Unmark(ctx, 1, 2); err != nil {
		t.Fatalf("Unmark failed: %v", err)
	}
	snap := l.Snapshot()
	want := []int64{1, 3, 4}
	if len(snap[1]) != len(want) {
		t.Fatalf("expected %v, got %v", want, snap[1])
	}
	for i := range want {
		if snap[1][i] != want[i] {
			t.Fatalf("expected %v, got %v", want, snap[1])
		}
	}
}
