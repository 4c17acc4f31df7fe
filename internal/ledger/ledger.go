// Package ledger records which channel messages have already been acted on.
// A message id is marked and persisted before anything executes for it, so
// the live stream and the catch-up scan can never both execute one message.
package ledger

import (
	"context"
	"log"
	"sort"
	"sync"
)

// State maps channel id to the set of processed message ids.
type State map[int64]map[int64]struct{}

// Has reports whether id is marked for channel.
func (s State) Has(channel, id int64) bool {
	_, ok := s[channel][id]
	return ok
}

// Add marks id for channel and reports whether it was new.
func (s State) Add(channel, id int64) bool {
	set, ok := s[channel]
	if !ok {
		set = make(map[int64]struct{})
		s[channel] = set
	}
	if _, dup := set[id]; dup {
		return false
	}
	set[id] = struct{}{}
	return true
}

// Remove unmarks id for channel.
func (s State) Remove(channel, id int64) {
	if set, ok := s[channel]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s, channel)
		}
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for ch, set := range s {
		cp := make(map[int64]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		out[ch] = cp
	}
	return out
}

// Sorted returns ids per channel in ascending order.
func (s State) Sorted() map[int64][]int64 {
	out := make(map[int64][]int64, len(s))
	for ch, set := range s {
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out[ch] = ids
	}
	return out
}

// Len counts marks across all channels.
func (s State) Len() int {
	n := 0
	for _, set := range s {
		n += len(set)
	}
	return n
}

// FromSorted builds a State from per-channel id lists.
func FromSorted(m map[int64][]int64) State {
	s := make(State, len(m))
	for ch, ids := range m {
		for _, id := range ids {
			s.Add(ch, id)
		}
	}
	return s
}

// Store is the durable side of the ledger.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// Appender is implemented by stores that can persist a single mark
// without rewriting the whole state.
type Appender interface {
	Append(ctx context.Context, channel, id int64) error
}

// Remover is implemented by stores that can drop a single mark.
type Remover interface {
	Remove(ctx context.Context, channel, id int64) error
}

// Ledger is the in-memory view over a Store. All mutation happens under one
// mutex, which is also the pipeline's check→mark→persist critical section.
type Ledger struct {
	mu      sync.Mutex
	state   State
	pending State // marks whose persistence failed; re-applied on Reload
	store   Store

	// OnPersistError runs with the ledger lock held and must not call back into the Ledger.
	OnPersistError func(error)
}

// New builds a ledger over store. Call Load before use.
func New(store Store) *Ledger {
	return &Ledger{
		state:   make(State),
		pending: make(State),
		store:   store,
	}
}

// Load seeds in-memory state from the store on startup.
func (l *Ledger) Load(ctx context.Context) error {
	return l.Reload(ctx)
}

// Reload replaces the in-memory state with the store's content. Marks that
// never reached the store stay marked and are written again.
func (l *Ledger) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loaded, err := l.store.Load(ctx)
	if err != nil {
		return err
	}
	if loaded == nil {
		loaded = make(State)
	}

	if l.pending.Len() > 0 {
		for ch, set := range l.pending {
			for id := range set {
				loaded.Add(ch, id)
			}
		}
		if err := l.persistAll(ctx, loaded, l.pending); err != nil {
			l.reportPersist(err)
		} else {
			log.Printf("ledger: re-persisted %d pending mark(s)", l.pending.Len())
			l.pending = make(State)
		}
	}

	l.state = loaded
	return nil
}

// IsProcessed reports whether the message was already claimed.
func (l *Ledger) IsProcessed(channel, id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Has(channel, id)
}

// MarkProcessed marks and persists. It is idempotent; a persistence error is
// returned but the in-memory mark is kept.
func (l *Ledger) MarkProcessed(ctx context.Context, channel, id int64) error {
	_, err := l.Claim(ctx, channel, id)
	return err
}

// Claim is the single check→mark→persist region. claimed is false when the
// message was already processed. A non-nil err means the mark is held in
// memory only; the caller must still treat the message as claimed.
func (l *Ledger) Claim(ctx context.Context, channel, id int64) (claimed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.Add(channel, id) {
		return false, nil
	}
	if err := l.persistOne(ctx, channel, id); err != nil {
		l.pending.Add(channel, id)
		l.reportPersist(err)
		return true, err
	}
	return true, nil
}

// Seed marks ids without executing them and returns how many were new.
func (l *Ledger) Seed(ctx context.Context, channel int64, ids []int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := make(State)
	for _, id := range ids {
		if l.state.Add(channel, id) {
			added.Add(channel, id)
		}
	}
	n := added.Len()
	if n == 0 {
		return 0, nil
	}
	if err := l.persistAll(ctx, l.state, added); err != nil {
		for id := range added[channel] {
			l.pending.Add(channel, id)
		}
		l.reportPersist(err)
		return n, err
	}
	return n, nil
}

// Unmark removes a mark so the next scan may replay the message.
func (l *Ledger) Unmark(ctx context.Context, channel, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Remove(channel, id)
	l.pending.Remove(channel, id)
	if r, ok := l.store.(Remover); ok {
		return r.Remove(ctx, channel, id)
	}
	return l.store.Save(ctx, l.state.Clone())
}

// Snapshot returns sorted ids per channel.
func (l *Ledger) Snapshot() map[int64][]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Sorted()
}

// Stats returns total and not-yet-persisted mark counts.
func (l *Ledger) Stats() (total, pending int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Len(), l.pending.Len()
}

func (l *Ledger) persistOne(ctx context.Context, channel, id int64) error {
	if a, ok := l.store.(Appender); ok {
		return a.Append(ctx, channel, id)
	}
	return l.store.Save(ctx, l.state.Clone())
}

// persistAll writes the marks in delta, falling back to a full save of full.
func (l *Ledger) persistAll(ctx context.Context, full, delta State) error {
	a, ok := l.store.(Appender)
	if !ok {
		return l.store.Save(ctx, full.Clone())
	}
	for ch, set := range delta {
		for id := range set {
			if err := a.Append(ctx, ch, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Ledger) reportPersist(err error) {
	log.Printf("⚠️ ledger: persist failed, keeping in-memory mark: %v", err)
	if l.OnPersistError != nil {
		l.OnPersistError(err)
	}
}
