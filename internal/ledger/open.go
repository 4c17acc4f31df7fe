package ledger

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"signal-trader/pkg/db"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendJournal  = "journal"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options selects and configures a Store.
type Options struct {
	Backend     string
	Path        string // file: JSON path; journal: directory is derived from it
	RedisURL    string
	DatabaseURL string
	DB          *db.Database // sqlite backend shares the audit database
}

// Open builds the configured store. The returned closer may be nil.
func Open(ctx context.Context, opts Options) (Store, io.Closer, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Path), nil, nil
	case BackendJournal:
		dir := filepath.Join(filepath.Dir(opts.Path), "ledger")
		js, err := NewJournalStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return js, js, nil
	case BackendSQLite:
		if opts.DB == nil {
			return nil, nil, fmt.Errorf("ledger backend sqlite needs a database")
		}
		return NewSQLiteStore(opts.DB), nil, nil
	case BackendRedis:
		rs, err := NewRedisStore(opts.RedisURL, "")
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return rs, rs, nil
	case BackendPostgres:
		ps, err := NewPostgresStore(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return ps, ps, nil
	case BackendMemory:
		return NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
	}
}
