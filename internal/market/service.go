// Package market serves last prices to the planner with a short TTL cache.
package market

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/exchanges/common"
)

// Service answers LastPrice from the cache when fresh, otherwise from the source.
type Service struct {
	source  common.PriceSource
	cache   *cache.ShardedPriceCache
	ttl     time.Duration
	timeout time.Duration
	bus     *events.Bus
}

// NewService wraps source. ttl 0 disables caching; the planner always needs
// a price no older than one pipeline run.
func NewService(source common.PriceSource, ttl, timeout time.Duration, bus *events.Bus) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		source:  source,
		cache:   cache.NewShardedPriceCache(),
		ttl:     ttl,
		timeout: timeout,
		bus:     bus,
	}
}

// LastPrice returns the last traded price for a base asset. A zero or
// negative price is reported as an error.
func (s *Service) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)
	if s.ttl > 0 {
		if p, ok := s.cache.Fresh(symbol, s.ttl); ok {
			return p, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	price, err := s.source.LastPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %s: non-positive %s", symbol, price)
	}

	s.cache.Set(symbol, price)
	if s.bus != nil {
		s.bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: symbol, Price: price.String(), At: time.Now()})
	}
	return price, nil
}

// Snapshot returns cached prices for the status API.
func (s *Service) Snapshot() map[string]decimal.Decimal {
	return s.cache.GetAll()
}

// Watch refreshes symbols every interval until ctx ends, so the status API
// and startup broadcast have recent prices.
func (s *Service) Watch(ctx context.Context, symbols []string, interval time.Duration) {
	if len(symbols) == 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range symbols {
					if _, err := s.fetch(ctx, sym); err != nil {
						log.Printf("market: refresh %s failed: %v", sym, err)
					}
				}
				s.cache.Cleanup(10 * interval)
			}
		}
	}()
}

func (s *Service) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.cache.Delete(strings.ToUpper(symbol))
	return s.LastPrice(ctx, symbol)
}
