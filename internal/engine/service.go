// Package engine assembles the signal pipeline and exposes it to the API
// layer through a narrow interface.
package engine

import (
	"context"

	"signal-trader/pkg/db"
)

// Service defines the operations the API layer may perform on a running
// pipeline. The API should only interact with the engine through this interface.
type Service interface {
	// Queries
	Status(ctx context.Context) Status
	LedgerSnapshot() map[int64][]int64

	// Ledger commands
	ReloadLedger(ctx context.Context) error
	MarkProcessed(ctx context.Context, channel, id int64) error
	UnmarkProcessed(ctx context.Context, channel, id int64) error
}

// ReadOnlyDB defines the audit queries the API layer may run.
type ReadOnlyDB interface {
	ListSignals(ctx context.Context, limit int) ([]db.SignalRecord, error)
	ListOutcomes(ctx context.Context, account string, limit int) ([]db.OutcomeRecord, error)
}

var (
	_ Service    = (*Engine)(nil)
	_ ReadOnlyDB = (*db.Database)(nil)
)
