package main

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/internal/gateway"
	"signal-trader/internal/ledger"
	"signal-trader/internal/market"
	"signal-trader/internal/notify"
	"signal-trader/internal/order"
	"signal-trader/internal/pipeline"
	"signal-trader/internal/signal"
	"signal-trader/internal/transport"
	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

// dry_run_demo pushes a handful of channel messages through the full
// pipeline against one simulated account. It does not touch Telegram, an
// exchange, or the database.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Open ETH long from a strategy template message.
//   2) Deliver the same message id again to show it is ignored.
//   3) Replay a stale BTC short whose quoted price has run away.
//   4) Close the ETH long and print the remaining simulated positions.

const demoChannel int64 = 1001

func main() {
	log.Println("=== DRY-RUN demo starting ===")
	ctx := context.Background()

	prices := market.NewStaticSource(map[string]decimal.Decimal{
		"ETH": decimal.RequireFromString("3456.78"),
		"BTC": decimal.RequireFromString("65000"),
	})
	gw := order.NewDryRunGateway(order.DryRunConfig{Prices: prices, SlippageBps: 2})
	pool := gateway.NewManager(func(config.Account) (exchange.Gateway, error) { return gw, nil }, gateway.DefaultConfig())

	acct := config.Account{
		Name:       "SIM1",
		Exchange:   config.ExchangeDryRun,
		Flag:       "1",
		Leverage:   20,
		MarginMode: "cross",
		FixedSize: map[string]decimal.Decimal{
			"ETH": decimal.RequireFromString("0.1"),
			"BTC": decimal.RequireFromString("0.01"),
		},
	}
	exec := order.NewExecutor([]config.Account{acct}, pool, prices, order.NewPlanner(1, 2.7), order.Options{})

	l := ledger.New(ledger.NewMemoryStore())
	if err := l.Load(ctx); err != nil {
		log.Fatalf("load ledger error: %v", err)
	}

	bus := events.NewBus()
	p := &pipeline.Context{
		Ledger:    l,
		Extractor: signal.NewExtractor(),
		Executor:  exec,
		Prices:    prices,
		Reporter: &pipeline.Reporter{
			Notifier: notify.Func(func(ctx context.Context, title, body string) bool {
				log.Printf("📣 %s\n%s", title, body)
				return true
			}),
			Bus:      bus,
			Instance: "demo",
		},
		Bus:          bus,
		DeviationPct: decimal.RequireFromString("0.5"),
		PriceTimeout: 2 * time.Second,
	}

	steps := []struct {
		name string
		id   int64
		text string
		live bool
	}{
		{"open ETH long", 1, "策略当前交易对:ETHUSDT.P\n执行交易:做多 0.1ETH\nETH价格:3455", true},
		{"duplicate delivery", 1, "策略当前交易对:ETHUSDT.P\n执行交易:做多 0.1ETH\nETH价格:3455", true},
		{"stale BTC short replay", 2, "策略当前交易对:BTCUSDT.P\n执行交易:做空 0.01BTC\nBTC价格:66000", false},
		{"chatter", 3, "早上好，今天行情震荡", true},
		{"close ETH long", 4, "ETH 多止盈 之前做多的仓位", true},
	}

	for i, s := range steps {
		log.Printf("[SCENARIO %d] %s", i+1, s.name)
		msg := transport.InboundMessage{
			ChannelID:  demoChannel,
			MessageID:  s.id,
			Text:       s.text,
			ReceivedAt: time.Now(),
			Source:     transport.SourceLive,
		}
		if !s.live {
			msg.Source = transport.SourceScan
		}
		res := p.Dispatch(ctx, msg)
		log.Printf("  claimed=%v kind=%s dispatched=%v skipped=%v reason=%s", res.Claimed, res.Intent.Kind, res.Dispatched, res.Skipped, res.Reason)
		p.Wait()
	}

	log.Println("Final simulated positions:")
	for _, sym := range []string{"ETH", "BTC"} {
		positions, err := gw.GetPositions(ctx, sym)
		if err != nil {
			log.Fatalf("get positions error: %v", err)
		}
		for _, pos := range positions {
			log.Printf("  %s %s size=%s entry=%s", pos.Symbol, pos.PositionSide, pos.Size, pos.EntryPrice)
		}
	}
	log.Printf("Simulated orders: %d", len(gw.Orders()))
	total, pending := l.Stats()
	log.Printf("Ledger: %d mark(s), %d pending", total, pending)
	log.Println("=== DRY-RUN demo finished ===")
}
