package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

type pingGateway struct {
	fail atomic.Bool
}

func (p *pingGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{ExchangeOrderID: "1"}, nil
}

func (p *pingGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	return []exchange.Position{{Symbol: symbol, PositionSide: exchange.PosLong, Size: decimal.NewFromInt(1)}}, nil
}

func (p *pingGateway) SetLeverage(ctx context.Context, symbol string, leverage int, mode exchange.MarginMode) error {
	return nil
}

func (p *pingGateway) Ping(ctx context.Context) error {
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestManagerCachesPerAccount(t *testing.T) {
	var created atomic.Int32
	m := NewManager(func(acct config.Account) (exchange.Gateway, error) {
		created.Add(1)
		return &pingGateway{}, nil
	}, DefaultConfig())
	defer m.Stop()

	a := config.Account{Name: "OKX1", Exchange: config.ExchangeOKX}
	b := config.Account{Name: "OKX2", Exchange: config.ExchangeOKX}
	for i := 0; i < 3; i++ {
		if _, err := m.Get(context.Background(), a); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	m.Get(context.Background(), b)

	if created.Load() != 2 {
		t.Errorf("expected 2 gateways created, got %d", created.Load())
	}
	if s := m.Stats(); s.TotalGateways != 2 || s.ByExchange["okx"] != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestManagerCircuitBreaker(t *testing.T) {
	gw := &pingGateway{}
	cfg := Config{FailureThreshold: 2, CircuitTimeout: time.Hour}
	m := NewManager(func(config.Account) (exchange.Gateway, error) { return gw, nil }, cfg)
	acct := config.Account{Name: "A", Exchange: config.ExchangeDryRun}

	m.Get(context.Background(), acct)
	gw.fail.Store(true)
	m.HealthCheckAll(context.Background())
	m.HealthCheckAll(context.Background())

	if _, err := m.Get(context.Background(), acct); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if s := m.Stats(); s.UnhealthyCount != 1 {
		t.Errorf("expected 1 unhealthy, got %d", s.UnhealthyCount)
	}

	gw.fail.Store(false)
	m.HealthCheckAll(context.Background())
	if _, err := m.Get(context.Background(), acct); err != nil {
		t.Fatalf("expected circuit closed after successful ping, got %v", err)
	}
}

func TestDefaultFactoryRejectsUnknownExchange(t *testing.T) {
	if _, err := DefaultFactory(config.Account{Name: "X", Exchange: "kraken"}); err == nil {
		t.Fatal("expected error")
	}
	gw, err := DefaultFactory(config.Account{Name: "D", Exchange: config.ExchangeDryRun})
	if err != nil || gw == nil {
		t.Fatalf("dry run gateway expected, got %v", err)
	}
}

type syncingGateway struct {
	pingGateway
	started chan context.Context
}

func (s *syncingGateway) StartTimeSync(ctx context.Context) {
	s.started <- ctx
}

func TestManagerStartsClockSyncUntilStop(t *testing.T) {
	gw := &syncingGateway{started: make(chan context.Context, 1)}
	m := NewManager(func(acct config.Account) (exchange.Gateway, error) { return gw, nil }, DefaultConfig())

	if _, err := m.Get(context.Background(), config.Account{Name: "OKX1", Exchange: config.ExchangeOKX}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var syncCtx context.Context
	select {
	case syncCtx = <-gw.started:
	case <-time.After(time.Second):
		t.Fatal("expected clock sync to start for a new gateway")
	}
	if syncCtx.Err() != nil {
		t.Fatal("clock sync context must outlive the Get call")
	}

	m.Stop()
	select {
	case <-syncCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop must end clock sync")
	}
}
