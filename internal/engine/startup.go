package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// startup runs once, after the first successful connect: leverage for the
// startup symbols on every account, a price broadcast, and ledger seeding.
func (e *Engine) startup(ctx context.Context) error {
	var errs []error
	symbols := e.cfg.StartupSymbols

	if len(e.accounts) > 0 && len(symbols) > 0 {
		if err := e.executor.SetLeverageAll(ctx, symbols); err != nil {
			errs = append(errs, fmt.Errorf("set leverage: %w", err))
		}
	}

	e.reporter.Announce(ctx, "机器人启动", e.startupBody(ctx, symbols))

	if e.cfg.SeedOnStart {
		if err := e.seedLedger(ctx); err != nil {
			errs = append(errs, fmt.Errorf("seed ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) startupBody(ctx context.Context, symbols []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "监听频道: %d 个, 账户: %d 个", len(e.channels), len(e.accounts))
	if e.cfg.DryRun {
		b.WriteString(" (模拟)")
	}
	for _, sym := range symbols {
		price, err := e.market.LastPrice(ctx, sym)
		if err != nil {
			log.Printf("⚠️ engine: startup price %s: %v", sym, err)
			fmt.Fprintf(&b, "\n%s 当前价格: 获取失败", sym)
			continue
		}
		fmt.Fprintf(&b, "\n%s 当前价格: %s", sym, price)
	}
	return b.String()
}

// seedLedger marks the recent window of channels the ledger has never seen,
// so a first start does not replay old history. Channels with marks are left
// to the scanner. A channel that cannot be paged is held by the scanner until
// it seeds it there.
func (e *Engine) seedLedger(ctx context.Context) error {
	snapshot := e.ledger.Snapshot()
	var errs []error
	for _, ch := range e.channels {
		if len(snapshot[ch]) > 0 {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		msgs, err := e.transport.PageRecent(pctx, ch, e.cfg.ScanWindowSize)
		cancel()
		if err != nil {
			e.scanner.HoldUntilSeeded(ch)
			errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
			continue
		}
		ids := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.MessageID)
		}
		n, err := e.ledger.Seed(ctx, ch, ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
		}
		log.Printf("💾 ledger: seeded %d message(s) for channel %d", n, ch)
	}
	return errors.Join(errs...)
}
