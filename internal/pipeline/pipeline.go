// Package pipeline is the one path every inbound message takes, whether it
// arrives live or from a catch-up scan: claim in the ledger, classify,
// execute on every account, report.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/internal/ledger"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/signal"
	"signal-trader/internal/transport"
	exchange "signal-trader/pkg/exchanges/common"
)

// Executor fans an intent out to accounts.
type Executor interface {
	Execute(ctx context.Context, intent signal.Intent) []order.Outcome
}

// Skip reasons.
const (
	SkipPriceDeviation = "price_deviation"
	SkipNoMarketPrice  = "no_market_price"
)

// Result is what happened to one message synchronously. Execution itself
// continues in the background when Dispatched is true.
type Result struct {
	Claimed    bool
	Intent     signal.Intent
	Dispatched bool
	Skipped    bool
	Reason     string
	PersistErr error
}

// Context holds every collaborator of the pipeline. There is no package
// state; tests build their own.
type Context struct {
	Ledger    *ledger.Ledger
	Extractor *signal.Extractor
	Executor  Executor
	Prices    exchange.PriceSource
	Reporter  *Reporter
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics

	// DeviationPct bounds how far the market may have run past the quoted
	// price before a replayed open is dropped. Zero disables the guard.
	DeviationPct decimal.Decimal
	PriceTimeout time.Duration

	wg sync.WaitGroup
}

// Dispatch claims msg and, if it carries an intent, starts execution on a
// context detached from ctx so a session restart never interrupts an
// in-flight submission.
func (p *Context) Dispatch(ctx context.Context, msg transport.InboundMessage) Result {
	var res Result

	claimed, err := p.Ledger.Claim(ctx, msg.ChannelID, msg.MessageID)
	res.PersistErr = err
	if !claimed {
		return res
	}
	res.Claimed = true
	if p.Metrics != nil {
		p.Metrics.RecordMessage(msg.Source)
	}
	p.publish(events.EventMessageClaimed, events.MessageClaimed{
		ChannelID: msg.ChannelID,
		MessageID: msg.MessageID,
		Source:    msg.Source,
		At:        time.Now(),
	})

	intent := p.Extractor.Classify(msg.Text)
	res.Intent = intent
	if intent.Kind == signal.KindNone {
		return res
	}

	log.Printf("pipeline: %s %d/%d → %s (rule %s)", msg.Source, msg.ChannelID, msg.MessageID, intent, intent.Rule)
	if p.Metrics != nil {
		p.Metrics.RecordSignal(string(intent.Kind), msg.Source)
	}
	p.publish(events.EventSignalDetected, events.SignalDetected{
		ChannelID: msg.ChannelID,
		MessageID: msg.MessageID,
		Intent:    intent.String(),
		Rule:      intent.Rule,
		Source:    msg.Source,
		At:        time.Now(),
	})

	detached := context.WithoutCancel(ctx)
	var signalID string
	if p.Reporter != nil {
		signalID = p.Reporter.RecordSignal(msg, intent)
	}

	if msg.Source == transport.SourceScan {
		if reason, detail, skip := p.guard(ctx, intent); skip {
			res.Skipped = true
			res.Reason = reason
			p.publish(events.EventSignalSkipped, events.SignalSkipped{
				ChannelID: msg.ChannelID,
				MessageID: msg.MessageID,
				Intent:    intent.String(),
				Reason:    reason,
				At:        time.Now(),
			})
			if p.Reporter != nil {
				p.Reporter.ReportSkip(detached, intent, detail)
			}
			return res
		}
	}

	res.Dispatched = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.Now()
		outcomes := p.Executor.Execute(detached, intent)
		if p.Metrics != nil {
			p.Metrics.PipelineLatency.RecordDuration(time.Since(timer))
		}
		if p.Reporter != nil {
			p.Reporter.Report(detached, msg, intent, signalID, outcomes)
		}
	}()
	return res
}

// guard applies the replay price check to open intents that quote a price.
func (p *Context) guard(ctx context.Context, intent signal.Intent) (reason, detail string, skip bool) {
	if intent.Kind != signal.KindOpen || !intent.HasPrice || !p.DeviationPct.IsPositive() || p.Prices == nil {
		return "", "", false
	}

	timeout := p.PriceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	market, err := p.Prices.LastPrice(cctx, intent.Symbol)
	if err != nil || !market.IsPositive() {
		log.Printf("⚠️ pipeline: replay price check for %s failed: %v", intent.Symbol, err)
		return SkipNoMarketPrice, fmt.Sprintf("补单时获取市场价失败: %s", intent.Symbol), true
	}

	if Deviates(intent.Direction, intent.SignalPrice, market, p.DeviationPct) {
		pct := p.DeviationPct.String()
		var detail string
		if intent.Direction == signal.Long {
			detail = fmt.Sprintf("做多信号，市场价高于信号价超%s%%，不下单\n信号价:%s, 市场价:%s", pct, intent.SignalPrice, market)
		} else {
			detail = fmt.Sprintf("做空信号，市场价低于信号价超%s%%，不下单\n信号价:%s, 市场价:%s", pct, intent.SignalPrice, market)
		}
		log.Printf("⚠️ pipeline: %s", detail)
		return SkipPriceDeviation, detail, true
	}
	return "", "", false
}

// Deviates reports whether market has moved against the entry by more than
// pct percent of the signal price: above it for a long, below it for a short.
func Deviates(d signal.Direction, signalPrice, market, pct decimal.Decimal) bool {
	if !signalPrice.IsPositive() {
		return false
	}
	band := signalPrice.Mul(pct).Div(decimal.NewFromInt(100))
	switch d {
	case signal.Long:
		return market.GreaterThan(signalPrice.Add(band))
	case signal.Short:
		return market.LessThan(signalPrice.Sub(band))
	}
	return false
}

// Wait blocks until every dispatched execution has been reported.
func (p *Context) Wait() {
	p.wg.Wait()
}

func (p *Context) publish(e events.Event, payload any) {
	if p.Bus != nil {
		p.Bus.Publish(e, payload)
	}
}
