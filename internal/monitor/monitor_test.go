package monitor

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-trader/internal/events"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 {
		t.Fatalf("expected window of 3, got %d", s.Count)
	}
	if s.Min != 20 || s.Max != 40 || s.Avg != 30 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestRecordOrderCounts(t *testing.T) {
	m := NewSystemMetrics()
	m.RecordOrder("OKX1", "open", true, 120*time.Millisecond)
	m.RecordOrder("OKX2", "open", false, 0)
	m.RecordReplayed(2)

	snap := m.GetSnapshot()
	if snap.OrdersPlaced != 1 || snap.OrdersFailed != 1 {
		t.Errorf("expected 1/1 orders, got %d/%d", snap.OrdersPlaced, snap.OrdersFailed)
	}
	if snap.MessagesReplayed != 2 {
		t.Errorf("expected 2 replayed, got %d", snap.MessagesReplayed)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `signal_trader_orders_total{account="OKX1",kind="open",result="success"} 1`) {
		t.Errorf("expected orders counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestMonitorAlertsWithCooldown(t *testing.T) {
	bus := events.NewBus()
	metrics := NewSystemMetrics()

	var (
		mu     sync.Mutex
		alerts []string
	)
	got := make(chan struct{}, 10)
	m := &Monitor{
		Bus:      bus,
		Metrics:  metrics,
		Cooldown: time.Hour,
		Alert: func(ctx context.Context, title, body string) {
			mu.Lock()
			alerts = append(alerts, title)
			mu.Unlock()
			got <- struct{}{}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventLedgerPersist, events.LedgerPersistFailed{Error: "disk full", At: time.Now()})
	bus.Publish(events.EventLedgerPersist, events.LedgerPersistFailed{Error: "disk full", At: time.Now()})
	bus.Publish(events.EventOrderOutcome, events.OrderOutcome{Account: "OKX1", Success: false, Error: "boom"})
	bus.Publish(events.EventOrderOutcome, events.OrderOutcome{Account: "OKX2", Success: true})

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for alert %d", i+1)
		}
	}
	// Let the remaining events drain.
	deadline := time.Now().Add(2 * time.Second)
	for metrics.GetSnapshot().PersistFailures < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts (one suppressed), got %v", alerts)
	}
	if metrics.GetSnapshot().PersistFailures != 2 {
		t.Errorf("expected both persist failures counted, got %d", metrics.GetSnapshot().PersistFailures)
	}
}
