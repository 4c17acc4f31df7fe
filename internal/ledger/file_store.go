package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore keeps the ledger as a single JSON document
// {"<channel id>": [message ids...]}, rewritten atomically on every save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readSnapshot(f.path)
}

func (f *FileStore) Save(ctx context.Context, s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeSnapshot(f.path, s)
}

func readSnapshot(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(State), nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if len(data) == 0 {
		return make(State), nil
	}

	var raw map[string][]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	s := make(State, len(raw))
	for key, ids := range raw {
		ch, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger %s: bad channel key %q: %w", path, key, err)
		}
		for _, id := range ids {
			s.Add(ch, id)
		}
	}
	return s, nil
}

// writeSnapshot writes to a temp file, syncs, then renames over path.
func writeSnapshot(path string, s State) error {
	raw := make(map[string][]int64, len(s))
	for ch, ids := range s.Sorted() {
		raw[strconv.FormatInt(ch, 10)] = ids
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// MemoryStore keeps the ledger in process memory only. Used for dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(State)}
}

func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
	return nil
}
