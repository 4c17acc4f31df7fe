package order

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	exchange "signal-trader/pkg/exchanges/common"
)

// DryRunConfig tunes the simulated venue.
type DryRunConfig struct {
	SlippageBps  float64 // basis points of slippage applied on fills
	LatencyMinMs int     // simulated gateway latency lower bound
	LatencyMaxMs int     // simulated gateway latency upper bound

	// Prices, when set, stamps entry prices on simulated fills.
	Prices exchange.PriceSource
}

// DryRunGateway fills every order locally and tracks hedge-mode positions
// in memory. Nothing reaches an exchange.
type DryRunGateway struct {
	cfg DryRunConfig

	mu        sync.RWMutex
	rng       *rand.Rand
	positions map[string]*mockPosition
	leverage  map[string]int
	orders    []MockOrder
}

type mockPosition struct {
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// MockOrder records one simulated fill.
type MockOrder struct {
	ID           string
	ClientID     string
	Symbol       string
	Side         exchange.Side
	PositionSide exchange.PositionSide
	Size         decimal.Decimal
	Price        decimal.Decimal
	FilledAt     time.Time
}

func NewDryRunGateway(cfg DryRunConfig) *DryRunGateway {
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	return &DryRunGateway{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		positions: make(map[string]*mockPosition),
		leverage:  make(map[string]int),
	}
}

func positionKey(symbol string, side exchange.PositionSide) string {
	return symbol + "/" + string(side)
}

// PlaceOrder fills at the last price (with slippage) after simulated latency.
func (d *DryRunGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if err := d.sleep(ctx); err != nil {
		return exchange.OrderResult{}, err
	}
	if !req.Size.IsPositive() {
		return exchange.OrderResult{ClientID: req.ClientID, Status: exchange.StatusRejected, Code: "51000", Msg: "size must be positive"},
			&exchange.APIError{Venue: "dryrun", Code: "51000", Msg: "size must be positive"}
	}

	price := d.fillPrice(ctx, req)

	d.mu.Lock()
	key := positionKey(req.Symbol, req.PositionSide)
	opening := req.Side == req.PositionSide.OpenSide()
	pos, ok := d.positions[key]
	switch {
	case opening && !ok:
		d.positions[key] = &mockPosition{Size: req.Size, EntryPrice: price}
	case opening:
		total := pos.Size.Mul(pos.EntryPrice).Add(req.Size.Mul(price))
		pos.Size = pos.Size.Add(req.Size)
		if pos.Size.IsPositive() {
			pos.EntryPrice = total.Div(pos.Size)
		}
	case !ok:
		d.mu.Unlock()
		return exchange.OrderResult{ClientID: req.ClientID, Status: exchange.StatusRejected, Code: "51169", Msg: "no position to reduce"},
			&exchange.APIError{Venue: "dryrun", Code: "51169", Msg: "no position to reduce"}
	default:
		pos.Size = pos.Size.Sub(req.Size)
		if !pos.Size.IsPositive() {
			delete(d.positions, key)
		}
	}
	o := MockOrder{
		ID:           uuid.NewString(),
		ClientID:     req.ClientID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		PositionSide: req.PositionSide,
		Size:         req.Size,
		Price:        price,
		FilledAt:     time.Now(),
	}
	d.orders = append(d.orders, o)
	d.mu.Unlock()

	log.Printf("DRY-RUN: %s %s %s size=%s price=%s", req.Side, req.PositionSide, req.Symbol, req.Size, price)
	return exchange.OrderResult{
		ExchangeOrderID: o.ID,
		ClientID:        req.ClientID,
		Status:          exchange.StatusFilled,
		Code:            "0",
	}, nil
}

// GetPositions lists simulated legs for symbol.
func (d *DryRunGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []exchange.Position
	for _, side := range []exchange.PositionSide{exchange.PosLong, exchange.PosShort} {
		if pos, ok := d.positions[positionKey(symbol, side)]; ok {
			out = append(out, exchange.Position{
				Symbol:       symbol,
				PositionSide: side,
				Size:         pos.Size,
				EntryPrice:   pos.EntryPrice,
			})
		}
	}
	return out, nil
}

func (d *DryRunGateway) SetLeverage(ctx context.Context, symbol string, leverage int, mode exchange.MarginMode) error {
	if leverage <= 0 {
		return fmt.Errorf("invalid leverage %d", leverage)
	}
	d.mu.Lock()
	d.leverage[symbol] = leverage
	d.mu.Unlock()
	return nil
}

func (d *DryRunGateway) Ping(ctx context.Context) error { return ctx.Err() }

// Orders returns a copy of every simulated fill.
func (d *DryRunGateway) Orders() []MockOrder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]MockOrder, len(d.orders))
	copy(out, d.orders)
	return out
}

// Leverage returns the last leverage set for symbol.
func (d *DryRunGateway) Leverage(symbol string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.leverage[symbol]
}

func (d *DryRunGateway) fillPrice(ctx context.Context, req exchange.OrderRequest) decimal.Decimal {
	if d.cfg.Prices == nil {
		return decimal.Zero
	}
	price, err := d.cfg.Prices.LastPrice(ctx, req.Symbol)
	if err != nil {
		return decimal.Zero
	}
	frac := d.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	d.mu.Lock()
	noise := decimal.NewFromFloat(d.rng.Float64() * frac)
	d.mu.Unlock()
	one := decimal.NewFromInt(1)
	if req.Side == exchange.SideBuy {
		return price.Mul(one.Add(noise))
	}
	return price.Mul(one.Sub(noise))
}

func (d *DryRunGateway) sleep(ctx context.Context) error {
	maxMs := d.cfg.LatencyMaxMs
	if maxMs <= 0 {
		return ctx.Err()
	}
	minMs := d.cfg.LatencyMinMs
	if minMs < 0 {
		minMs = 0
	}
	d.mu.Lock()
	delayMs := minMs
	if span := maxMs - minMs; span > 0 {
		delayMs += d.rng.Intn(span + 1)
	}
	d.mu.Unlock()

	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
