package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	journalMark   = "MARK"
	journalUnmark = "UNMARK"

	defaultCompactEvery = 500
)

// JournalStore persists each mark as one fsynced JSON line and periodically
// folds the journal into a snapshot. Crash recovery replays snapshot + journal.
type JournalStore struct {
	snapshotPath string
	journalPath  string
	compactEvery int

	mu      sync.Mutex
	journal *os.File
	entries int
	metrics JournalMetrics
}

// JournalMetrics tracks persistence statistics.
type JournalMetrics struct {
	Appended    uint64 `json:"appended"`
	Compactions uint64 `json:"compactions"`
	Failed      uint64 `json:"failed"`
}

type journalEntry struct {
	Op        string    `json:"op"`
	Channel   int64     `json:"channel"`
	Message   int64     `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// NewJournalStore opens (or creates) dir/ledger.snapshot.json and dir/ledger.journal.
func NewJournalStore(dir string) (*JournalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	js := &JournalStore{
		snapshotPath: filepath.Join(dir, "ledger.snapshot.json"),
		journalPath:  filepath.Join(dir, "ledger.journal"),
		compactEvery: defaultCompactEvery,
	}
	file, err := os.OpenFile(js.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	js.journal = file
	return js, nil
}

func (js *JournalStore) Load(ctx context.Context) (State, error) {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.replay()
}

func (js *JournalStore) replay() (State, error) {
	s, err := readSnapshot(js.snapshotPath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(js.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open journal for replay: %w", err)
	}
	defer file.Close()

	entries := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			// A torn final line after a crash is expected; skip it.
			log.Printf("⚠️ ledger journal: parse error (skipping): %v", err)
			continue
		}
		switch e.Op {
		case journalMark:
			s.Add(e.Channel, e.Message)
		case journalUnmark:
			s.Remove(e.Channel, e.Message)
		}
		entries++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal scan error: %w", err)
	}
	js.entries = entries
	return s, nil
}

// Save writes a full snapshot and truncates the journal.
func (js *JournalStore) Save(ctx context.Context, s State) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.compact(s)
}

func (js *JournalStore) Append(ctx context.Context, channel, id int64) error {
	return js.write(journalMark, channel, id)
}

func (js *JournalStore) Remove(ctx context.Context, channel, id int64) error {
	return js.write(journalUnmark, channel, id)
}

func (js *JournalStore) write(op string, channel, id int64) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	data, err := json.Marshal(journalEntry{Op: op, Channel: channel, Message: id, Timestamp: time.Now()})
	if err != nil {
		atomic.AddUint64(&js.metrics.Failed, 1)
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := js.journal.Write(append(data, '\n')); err != nil {
		atomic.AddUint64(&js.metrics.Failed, 1)
		return fmt.Errorf("write journal: %w", err)
	}
	if err := js.journal.Sync(); err != nil {
		atomic.AddUint64(&js.metrics.Failed, 1)
		return fmt.Errorf("sync journal: %w", err)
	}
	atomic.AddUint64(&js.metrics.Appended, 1)
	js.entries++

	if js.entries >= js.compactEvery {
		s, err := js.replay()
		if err != nil {
			log.Printf("⚠️ ledger journal: compaction replay failed: %v", err)
			return nil
		}
		if err := js.compact(s); err != nil {
			log.Printf("⚠️ ledger journal: compaction failed: %v", err)
		}
	}
	return nil
}

// compact must be called with js.mu held.
func (js *JournalStore) compact(s State) error {
	if err := writeSnapshot(js.snapshotPath, s); err != nil {
		atomic.AddUint64(&js.metrics.Failed, 1)
		return err
	}
	js.journal.Close()
	file, err := os.OpenFile(js.journalPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	js.journal = file
	js.entries = 0
	atomic.AddUint64(&js.metrics.Compactions, 1)
	log.Printf("✓ ledger journal compacted: %d mark(s) in snapshot", s.Len())
	return nil
}

// Metrics returns persistence counters.
func (js *JournalStore) Metrics() JournalMetrics {
	return JournalMetrics{
		Appended:    atomic.LoadUint64(&js.metrics.Appended),
		Compactions: atomic.LoadUint64(&js.metrics.Compactions),
		Failed:      atomic.LoadUint64(&js.metrics.Failed),
	}
}

// Close syncs and closes the journal file.
func (js *JournalStore) Close() error {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.journal == nil {
		return nil
	}
	js.journal.Sync()
	return js.journal.Close()
}
