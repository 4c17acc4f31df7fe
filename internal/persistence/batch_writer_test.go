package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/order"
	"signal-trader/internal/signal"
	"signal-trader/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestBatchWriterFlushesOnClose(t *testing.T) {
	database := newTestDB(t)
	bw := NewBatchWriter(database, 100, time.Hour)

	intent := signal.Intent{Kind: signal.KindOpen, Direction: signal.Long, Symbol: "ETH", Rule: "template"}
	sig := SignalRecord(100, 42, "live", "执行交易:做多 0.072ETH", intent)
	bw.WriteSignal(sig)
	bw.WriteOutcome(OutcomeRecord(sig.ID, order.Outcome{
		Account:     "OKX1",
		Intent:      intent,
		Success:     true,
		OrderID:     "123",
		MarketPrice: decimal.RequireFromString("3456.78"),
		Latency:     150 * time.Millisecond,
		At:          time.Now(),
	}))

	if bw.Pending() != 2 {
		t.Fatalf("expected 2 pending writes, got %d", bw.Pending())
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	signals, err := database.ListSignals(context.Background(), 10)
	if err != nil || len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d (err %v)", len(signals), err)
	}
	outcomes, err := database.ListOutcomes(context.Background(), "OKX1", 10)
	if err != nil || len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d (err %v)", len(outcomes), err)
	}
	if outcomes[0].MarketPrice != "3456.78" || outcomes[0].LatencyMs != 150 || outcomes[0].SignalID != sig.ID {
		t.Errorf("unexpected outcome row: %+v", outcomes[0])
	}

	m := bw.GetMetrics()
	if m.TotalWrites != 2 || m.TotalBatches != 1 || m.TotalErrors != 0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestBatchWriterAutoFlushAtMaxSize(t *testing.T) {
	database := newTestDB(t)
	bw := NewBatchWriter(database, 2, time.Hour)
	defer bw.Close()

	for i := int64(1); i <= 2; i++ {
		bw.WriteSignal(SignalRecord(1, i, "scan", "text", signal.None))
	}
	if bw.Pending() != 0 {
		t.Errorf("expected buffer flushed at max size, got %d pending", bw.Pending())
	}
}
