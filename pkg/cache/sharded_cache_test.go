package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPriceCache(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("ETH", decimal.RequireFromString("3000.5"))
	c.Set("BTC", decimal.NewFromInt(65000))

	if p, ok := c.Get("ETH"); !ok || p.String() != "3000.5" {
		t.Fatalf("expected 3000.5, got %v (ok=%v)", p, ok)
	}
	if _, ok := c.Fresh("ETH", time.Minute); !ok {
		t.Error("fresh entry should be returned")
	}
	if _, ok := c.Fresh("ETH", 0); ok {
		t.Error("zero max age should reject every entry")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 items, got %d", c.Len())
	}
	if n := c.Cleanup(0); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("BTC"); ok {
		t.Error("BTC should be gone")
	}
}
