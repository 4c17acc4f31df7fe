package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/internal/ledger"
	"signal-trader/internal/notify"
	"signal-trader/internal/order"
	"signal-trader/internal/signal"
	"signal-trader/internal/transport"
	exchange "signal-trader/pkg/exchanges/common"
)

type recordingExecutor struct {
	mu      sync.Mutex
	intents []signal.Intent
}

func (r *recordingExecutor) Execute(ctx context.Context, intent signal.Intent) []order.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return []order.Outcome{{Account: "OKX1", Intent: intent, Success: true, OrderID: "1", At: time.Now()}}
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

type priceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

func (f priceFunc) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

func newTestPipeline(t *testing.T, prices exchange.PriceSource) (*Context, *recordingExecutor, *[]string) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	exec := &recordingExecutor{}

	var (
		mu     sync.Mutex
		titles []string
	)
	n := notify.Func(func(ctx context.Context, title, body string) bool {
		mu.Lock()
		titles = append(titles, title)
		mu.Unlock()
		return true
	})

	p := &Context{
		Ledger:       l,
		Extractor:    signal.NewExtractor(),
		Executor:     exec,
		Prices:       prices,
		Reporter:     &Reporter{Notifier: n},
		Bus:          events.NewBus(),
		DeviationPct: decimal.RequireFromString("0.5"),
	}
	return p, exec, &titles
}

const templateLong = "策略当前交易对:ETHUSDT.P\n执行交易:做多 0.072ETH"

func TestDispatchExecutesOnce(t *testing.T) {
	p, exec, titles := newTestPipeline(t, nil)
	msg := transport.InboundMessage{ChannelID: 100, MessageID: 42, Text: templateLong, Source: transport.SourceLive}

	first := p.Dispatch(context.Background(), msg)
	second := p.Dispatch(context.Background(), msg)
	p.Wait()

	if !first.Claimed || !first.Dispatched {
		t.Fatalf("expected first dispatch to execute, got %+v", first)
	}
	if second.Claimed {
		t.Fatal("second dispatch must not claim")
	}
	if exec.count() != 1 {
		t.Fatalf("expected 1 execution, got %d", exec.count())
	}
	if len(*titles) != 1 || (*titles)[0] != "Tg信号策略做多-ETH" {
		t.Errorf("unexpected notifications: %v", *titles)
	}
}

func TestDispatchChatterIsClaimedButNotExecuted(t *testing.T) {
	p, exec, _ := newTestPipeline(t, nil)
	res := p.Dispatch(context.Background(), transport.InboundMessage{ChannelID: 1, MessageID: 1, Text: "good morning"})
	p.Wait()

	if !res.Claimed || res.Dispatched || res.Intent.Kind != signal.KindNone {
		t.Errorf("unexpected result: %+v", res)
	}
	if !p.Ledger.IsProcessed(1, 1) {
		t.Error("chatter must still be marked processed")
	}
	if exec.count() != 0 {
		t.Error("chatter must not execute")
	}
}

func TestDispatchSurvivesCancelledContext(t *testing.T) {
	p, exec, _ := newTestPipeline(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	res := p.Dispatch(ctx, transport.InboundMessage{ChannelID: 1, MessageID: 7, Text: templateLong})
	cancel()
	p.Wait()

	if !res.Dispatched || exec.count() != 1 {
		t.Fatalf("execution should complete after cancellation, got %+v (executions %d)", res, exec.count())
	}
}

func TestReplayPriceGuard(t *testing.T) {
	market := decimal.RequireFromString("2000")
	prices := priceFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) { return market, nil })

	tests := []struct {
		name     string
		text     string
		source   string
		wantSkip bool
	}{
		{"long within band", "做多 ETH ETH价格:1995", transport.SourceScan, false},
		{"long ran away", "做多 ETH ETH价格:1980", transport.SourceScan, true},
		{"short ran away", "做空 ETH ETH价格:2020", transport.SourceScan, true},
		{"short within band", "做空 ETH ETH价格:2005", transport.SourceScan, false},
		{"live is never guarded", "做多 ETH ETH价格:1900", transport.SourceLive, false},
		{"no quoted price", "做多 ETH", transport.SourceScan, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, exec, titles := newTestPipeline(t, prices)
			res := p.Dispatch(context.Background(), transport.InboundMessage{ChannelID: 1, MessageID: int64(i + 1), Text: tt.text, Source: tt.source})
			p.Wait()

			if res.Skipped != tt.wantSkip {
				t.Fatalf("expected skipped=%v, got %+v", tt.wantSkip, res)
			}
			if tt.wantSkip {
				if exec.count() != 0 {
					t.Error("skipped signal must not execute")
				}
				if len(*titles) != 1 || !strings.HasPrefix((*titles)[0], "补单价格检查-") {
					t.Errorf("expected a skip notification, got %v", *titles)
				}
			} else if exec.count() != 1 {
				t.Errorf("expected execution, got %d", exec.count())
			}
		})
	}
}

func TestReplayGuardWithoutMarketPrice(t *testing.T) {
	prices := priceFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("ticker down")
	})
	p, exec, _ := newTestPipeline(t, prices)
	res := p.Dispatch(context.Background(), transport.InboundMessage{ChannelID: 1, MessageID: 1, Text: "做多 ETH ETH价格:2000", Source: transport.SourceScan})
	p.Wait()

	if !res.Skipped || res.Reason != SkipNoMarketPrice || exec.count() != 0 {
		t.Errorf("expected skip for missing market price, got %+v", res)
	}
}

func TestDeviates(t *testing.T) {
	pct := decimal.RequireFromString("0.5")
	sig := decimal.NewFromInt(1000)
	cases := []struct {
		d      signal.Direction
		market string
		want   bool
	}{
		{signal.Long, "1005", false},
		{signal.Long, "1005.01", true},
		{signal.Long, "900", false},
		{signal.Short, "995", false},
		{signal.Short, "994.99", true},
		{signal.Short, "1100", false},
	}
	for _, c := range cases {
		if got := Deviates(c.d, sig, decimal.RequireFromString(c.market), pct); got != c.want {
			t.Errorf("Deviates(%s, %s): expected %v, got %v", c.d, c.market, c.want, got)
		}
	}
}
