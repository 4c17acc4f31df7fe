package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/signal"
	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

type fakeGateway struct {
	mu        sync.Mutex
	orders    []exchange.OrderRequest
	positions []exchange.Position
	placeErr  error
	posErr    error
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if g.placeErr != nil {
		var apiErr *exchange.APIError
		if errors.As(g.placeErr, &apiErr) {
			return exchange.OrderResult{ClientID: req.ClientID, Status: exchange.StatusRejected, Code: apiErr.Code, Msg: apiErr.Msg}, g.placeErr
		}
		return exchange.OrderResult{}, g.placeErr
	}
	return exchange.OrderResult{ExchangeOrderID: "ex-" + req.ClientID, ClientID: req.ClientID, Status: exchange.StatusFilled, Code: "0"}, nil
}

func (g *fakeGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	if g.posErr != nil {
		return nil, g.posErr
	}
	return g.positions, nil
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int, mode exchange.MarginMode) error {
	return nil
}

func (g *fakeGateway) placed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

type fakePool struct {
	mu       sync.Mutex
	gateways map[string]*fakeGateway
	failures map[string]int
}

func newFakePool(names ...string) *fakePool {
	p := &fakePool{gateways: make(map[string]*fakeGateway), failures: make(map[string]int)}
	for _, n := range names {
		p.gateways[n] = &fakeGateway{}
	}
	return p
}

func (p *fakePool) Get(ctx context.Context, acct config.Account) (exchange.Gateway, error) {
	gw, ok := p.gateways[acct.Name]
	if !ok {
		return nil, errors.New("no gateway")
	}
	return gw, nil
}

func (p *fakePool) RecordFailure(name string) {
	p.mu.Lock()
	p.failures[name]++
	p.mu.Unlock()
}

func (p *fakePool) RecordSuccess(name string) {}

type fixedPrice struct {
	price decimal.Decimal
	err   error
}

func (f fixedPrice) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, f.err
}

func account(name string, sizes map[string]string) config.Account {
	a := config.Account{Name: name, Exchange: config.ExchangeDryRun, Leverage: 10, MarginMode: "cross", Flag: "1", FixedSize: map[string]decimal.Decimal{}}
	for sym, s := range sizes {
		a.FixedSize[sym] = decimal.RequireFromString(s)
	}
	return a
}

func newTestExecutor(accounts []config.Account, pool GatewayPool, prices exchange.PriceSource) *Executor {
	return NewExecutor(accounts, pool, prices, NewPlanner(1, 2.7), Options{Timeout: time.Second, RatePerSec: 1000})
}

var openLongETH = signal.Intent{Kind: signal.KindOpen, Direction: signal.Long, Symbol: "ETH", Rule: "template"}

func TestExecuteOpenAllAccounts(t *testing.T) {
	pool := newFakePool("A", "B")
	accounts := []config.Account{account("A", map[string]string{"ETH": "0.072"}), account("B", map[string]string{"ETH": "0.1"})}
	e := newTestExecutor(accounts, pool, fixedPrice{price: decimal.NewFromInt(2000)})

	outcomes := e.Execute(context.Background(), openLongETH)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Success {
			t.Errorf("%s: expected success, got %s", o.Account, o.Error)
		}
		if o.TakeProfit.String() != "2020" || o.StopLoss.String() != "1946" {
			t.Errorf("%s: unexpected TP/SL %s/%s", o.Account, o.TakeProfit, o.StopLoss)
		}
		if !strings.HasPrefix(o.OrderID, "ex-ORD") {
			t.Errorf("%s: unexpected order id %q", o.Account, o.OrderID)
		}
	}
	req := pool.gateways["A"].orders[0]
	if req.Attach == nil || req.Side != exchange.SideBuy || req.PositionSide != exchange.PosLong {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestExecuteMissingPriceFailsEveryAccount(t *testing.T) {
	pool := newFakePool("A", "B")
	accounts := []config.Account{account("A", map[string]string{"ETH": "1"}), account("B", map[string]string{"ETH": "2"})}
	e := newTestExecutor(accounts, pool, fixedPrice{err: errors.New("ticker unavailable")})

	outcomes := e.Execute(context.Background(), openLongETH)
	if len(outcomes) != 2 {
		t.Fatalf("expected one outcome per account, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Success {
			t.Errorf("%s: expected failure", o.Account)
		}
		if !strings.Contains(o.Error, ErrNoPrice.Error()) {
			t.Errorf("%s: expected no-price error, got %q", o.Account, o.Error)
		}
	}
	if pool.gateways["A"].placed()+pool.gateways["B"].placed() != 0 {
		t.Error("no order should be submitted without a price")
	}
}

func TestExecuteSkipsAccountWithoutSize(t *testing.T) {
	pool := newFakePool("A", "B")
	accounts := []config.Account{account("A", map[string]string{"ETH": "1"}), account("B", map[string]string{"BTC": "0.01"})}
	e := newTestExecutor(accounts, pool, fixedPrice{price: decimal.NewFromInt(2000)})

	outcomes := e.Execute(context.Background(), openLongETH)
	if len(outcomes) != 1 {
		t.Fatalf("expected exactly 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Account != "A" || !outcomes[0].Success {
		t.Errorf("unexpected outcome: %+v", outcomes[0])
	}
	if pool.gateways["B"].placed() != 0 {
		t.Error("account without size must not be called")
	}
}

func TestExecutePartialFailureIsolation(t *testing.T) {
	pool := newFakePool("A", "B", "C")
	pool.gateways["A"].placeErr = errors.New("connection reset")
	pool.gateways["B"].placeErr = &exchange.APIError{Venue: "okx", Code: "51008", Msg: "insufficient margin"}
	sizes := map[string]string{"ETH": "1"}
	accounts := []config.Account{account("A", sizes), account("B", sizes), account("C", sizes)}
	e := newTestExecutor(accounts, pool, fixedPrice{price: decimal.NewFromInt(2000)})

	outcomes := e.Execute(context.Background(), openLongETH)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Success || outcomes[1].Success || !outcomes[2].Success {
		t.Fatalf("expected fail/fail/success, got %v/%v/%v", outcomes[0].Success, outcomes[1].Success, outcomes[2].Success)
	}
	if outcomes[1].Code != "51008" || outcomes[1].Msg != "insufficient margin" {
		t.Errorf("expected venue code/msg on outcome, got %q/%q", outcomes[1].Code, outcomes[1].Msg)
	}
	if pool.failures["A"] != 1 {
		t.Errorf("transport failure should count against the circuit, got %d", pool.failures["A"])
	}
	if pool.failures["B"] != 0 {
		t.Errorf("venue rejection must not count against the circuit, got %d", pool.failures["B"])
	}
}

func TestExecuteCloseBothLegs(t *testing.T) {
	pool := newFakePool("A")
	pool.gateways["A"].positions = []exchange.Position{
		{Symbol: "ETH", PositionSide: exchange.PosLong, Size: decimal.RequireFromString("0.5")},
		{Symbol: "ETH", PositionSide: exchange.PosShort, Size: decimal.RequireFromString("0.2")},
		{Symbol: "ETH", PositionSide: exchange.PosShort, Size: decimal.Zero},
	}
	e := newTestExecutor([]config.Account{account("A", nil)}, pool, nil)

	outcomes := e.Execute(context.Background(), signal.Intent{Kind: signal.KindClose, Direction: signal.Both, Symbol: "ETH"})
	if len(outcomes) != 1 || !outcomes[0].Success {
		t.Fatalf("expected one successful outcome, got %+v", outcomes)
	}
	if len(outcomes[0].Closes) != 2 {
		t.Fatalf("expected 2 close fills, got %d", len(outcomes[0].Closes))
	}
	orders := pool.gateways["A"].orders
	if orders[0].Side != exchange.SideSell || orders[0].PositionSide != exchange.PosLong {
		t.Errorf("long leg must be closed with a sell, got %+v", orders[0])
	}
	if orders[1].Side != exchange.SideBuy || orders[1].Size.String() != "0.2" {
		t.Errorf("short leg must be closed with a buy of 0.2, got %+v", orders[1])
	}
}

func TestExecuteCloseWithoutPositionSucceeds(t *testing.T) {
	pool := newFakePool("A")
	e := newTestExecutor([]config.Account{account("A", nil)}, pool, nil)

	outcomes := e.Execute(context.Background(), signal.Intent{Kind: signal.KindClose, Direction: signal.Long, Symbol: "BTC"})
	if len(outcomes) != 1 || !outcomes[0].Success || len(outcomes[0].Closes) != 0 {
		t.Fatalf("expected an empty successful close, got %+v", outcomes)
	}
	if pool.gateways["A"].placed() != 0 {
		t.Error("no order expected")
	}
}

func TestExecuteCloseWithoutSymbolFails(t *testing.T) {
	pool := newFakePool("A", "B")
	e := newTestExecutor([]config.Account{account("A", nil), account("B", nil)}, pool, nil)

	outcomes := e.Execute(context.Background(), signal.Intent{Kind: signal.KindClose, Direction: signal.Both})
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Success || o.Error != ErrNoSymbol.Error() {
			t.Errorf("%s: expected no-symbol failure, got %+v", o.Account, o)
		}
	}
}

func TestExecuteWithDryRunGateway(t *testing.T) {
	dry := NewDryRunGateway(DryRunConfig{Prices: fixedPrice{price: decimal.NewFromInt(100)}})
	pool := &staticPool{gw: dry}
	acct := account("SIM", map[string]string{"BTC": "0.5"})
	e := newTestExecutor([]config.Account{acct}, pool, fixedPrice{price: decimal.NewFromInt(100)})

	open := e.Execute(context.Background(), signal.Intent{Kind: signal.KindOpen, Direction: signal.Short, Symbol: "BTC"})
	if len(open) != 1 || !open[0].Success {
		t.Fatalf("open failed: %+v", open)
	}
	positions, _ := dry.GetPositions(context.Background(), "BTC")
	if len(positions) != 1 || positions[0].PositionSide != exchange.PosShort || positions[0].Size.String() != "0.5" {
		t.Fatalf("unexpected positions after open: %+v", positions)
	}

	closed := e.Execute(context.Background(), signal.Intent{Kind: signal.KindClose, Direction: signal.Short, Symbol: "BTC"})
	if len(closed) != 1 || !closed[0].Success || len(closed[0].Closes) != 1 {
		t.Fatalf("close failed: %+v", closed)
	}
	positions, _ = dry.GetPositions(context.Background(), "BTC")
	if len(positions) != 0 {
		t.Errorf("expected flat book, got %+v", positions)
	}
	if len(dry.Orders()) != 2 {
		t.Errorf("expected 2 simulated fills, got %d", len(dry.Orders()))
	}
}

type staticPool struct{ gw exchange.Gateway }

func (p *staticPool) Get(ctx context.Context, acct config.Account) (exchange.Gateway, error) {
	return p.gw, nil
}
func (p *staticPool) RecordFailure(string) {}
func (p *staticPool) RecordSuccess(string) {}
