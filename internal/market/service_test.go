package market

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
)

type countingSource struct {
	*StaticSource
	calls atomic.Int32
}

func (c *countingSource) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.calls.Add(1)
	return c.StaticSource.LastPrice(ctx, symbol)
}

func TestServiceCachesWithinTTL(t *testing.T) {
	src := &countingSource{StaticSource: NewStaticSource(map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)})}
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 4)
	defer unsub()

	svc := NewService(src, time.Minute, time.Second, bus)
	for i := 0; i < 3; i++ {
		p, err := svc.LastPrice(context.Background(), "eth")
		if err != nil || !p.Equal(decimal.NewFromInt(3000)) {
			t.Fatalf("expected 3000, got %v (err %v)", p, err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("expected 1 source call, got %d", got)
	}
	if len(ticks) != 1 {
		t.Errorf("expected 1 price tick, got %d", len(ticks))
	}
}

func TestServiceRejectsMissingAndZeroPrice(t *testing.T) {
	src := NewStaticSource(map[string]decimal.Decimal{"DOGE": decimal.Zero})
	svc := NewService(src, 0, time.Second, nil)

	if _, err := svc.LastPrice(context.Background(), "ETH"); err == nil {
		t.Error("expected error for unknown symbol")
	}
	if _, err := svc.LastPrice(context.Background(), "DOGE"); err == nil {
		t.Error("expected error for zero price")
	}
}
