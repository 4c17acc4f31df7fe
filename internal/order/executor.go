package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"signal-trader/internal/monitor"
	"signal-trader/internal/signal"
	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

// GatewayPool provides per-account gateways (backed by gateway.Manager).
type GatewayPool interface {
	Get(ctx context.Context, acct config.Account) (exchange.Gateway, error)
	RecordFailure(name string)
	RecordSuccess(name string)
}

// Options tunes the Executor.
type Options struct {
	Timeout    time.Duration // per exchange call
	RatePerSec float64       // per-account request rate
	Metrics    *monitor.SystemMetrics
}

// Executor applies one intent to every account in turn. It never returns an
// error: every per-account problem becomes a failed Outcome.
type Executor struct {
	Accounts []config.Account
	Pool     GatewayPool
	Prices   exchange.PriceSource
	Planner  *Planner
	Metrics  *monitor.SystemMetrics

	timeout    time.Duration
	ratePerSec float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewExecutor(accounts []config.Account, pool GatewayPool, prices exchange.PriceSource, planner *Planner, opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	return &Executor{
		Accounts:   accounts,
		Pool:       pool,
		Prices:     prices,
		Planner:    planner,
		Metrics:    opts.Metrics,
		timeout:    opts.Timeout,
		ratePerSec: opts.RatePerSec,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Execute runs the intent against all accounts sequentially. Accounts with
// no configured size for an open are skipped and produce no outcome.
func (e *Executor) Execute(ctx context.Context, intent signal.Intent) []Outcome {
	var outcomes []Outcome
	for _, acct := range e.Accounts {
		var (
			out  Outcome
			skip bool
		)
		switch intent.Kind {
		case signal.KindOpen:
			out, skip = e.executeOpen(ctx, acct, intent)
		case signal.KindClose:
			out = e.executeClose(ctx, acct, intent)
		default:
			return nil
		}
		if skip {
			continue
		}
		if e.Metrics != nil {
			e.Metrics.RecordOrder(acct.Name, string(intent.Kind), out.Success, out.Latency)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (e *Executor) executeOpen(ctx context.Context, acct config.Account, intent signal.Intent) (Outcome, bool) {
	out := Outcome{Account: acct.Name, Intent: intent, At: time.Now()}
	if intent.Symbol != "" {
		if _, ok := acct.Size(intent.Symbol); !ok {
			log.Printf("executor: %s has no size for %s, skipping", acct.Name, intent.Symbol)
			return out, true
		}
	}

	var priceErr error
	price := decimal.Zero
	if intent.Symbol != "" {
		price, priceErr = e.lastPrice(ctx, intent.Symbol)
	}

	plan, err := e.Planner.PlanOpen(intent, price, acct)
	if errors.Is(err, ErrNoSize) {
		return out, true
	}
	if err != nil {
		if priceErr != nil {
			err = fmt.Errorf("%w: %v", err, priceErr)
		}
		out.Error = err.Error()
		log.Printf("❌ executor: %s plan %s failed: %v", acct.Name, intent, err)
		return out, false
	}

	out.ClientOrderID = plan.ClientOrderID
	out.MarketPrice = plan.EntryPrice
	out.Size = plan.Size
	out.Margin = plan.Margin
	out.TakeProfit = plan.TakeProfit
	out.StopLoss = plan.StopLoss

	gw, err := e.Pool.Get(ctx, acct)
	if err != nil {
		out.Error = err.Error()
		return out, false
	}

	res, latency, err := e.submit(ctx, acct, gw, plan.Request())
	out.Latency = latency
	out.OrderID = res.ExchangeOrderID
	out.Code, out.Msg = res.Code, res.Msg
	if err != nil {
		out.Error = err.Error()
		log.Printf("❌ executor: %s open %s %s failed: %v", acct.Name, intent.Direction, intent.Symbol, err)
		return out, false
	}

	out.Success = true
	log.Printf("✓ executor: %s open %s %s size=%s price=%s order=%s", acct.Name, intent.Direction, intent.Symbol, plan.Size, plan.EntryPrice, res.ExchangeOrderID)
	return out, false
}

func (e *Executor) executeClose(ctx context.Context, acct config.Account, intent signal.Intent) Outcome {
	out := Outcome{Account: acct.Name, Intent: intent, At: time.Now()}
	if intent.Symbol == "" {
		out.Error = ErrNoSymbol.Error()
		return out
	}

	gw, err := e.Pool.Get(ctx, acct)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	positions, err := e.positions(ctx, acct, gw, intent.Symbol)
	if err != nil {
		out.Error = err.Error()
		log.Printf("❌ executor: %s positions %s failed: %v", acct.Name, intent.Symbol, err)
		return out
	}

	plans, err := e.Planner.PlanClose(intent, positions, acct)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if len(plans) == 0 {
		out.Success = true
		log.Printf("executor: %s has no %s %s position to close", acct.Name, intent.Direction, intent.Symbol)
		return out
	}

	var failures []string
	for _, plan := range plans {
		res, latency, err := e.submit(ctx, acct, gw, plan.Request())
		out.Latency += latency
		fill := CloseFill{
			PositionSide: plan.PositionSide,
			Size:         plan.Size,
			OrderID:      res.ExchangeOrderID,
			ClientID:     plan.ClientOrderID,
		}
		if err != nil {
			fill.Error = err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", plan.PositionSide, err))
			out.Code, out.Msg = res.Code, res.Msg
		}
		out.Closes = append(out.Closes, fill)
	}

	if len(failures) > 0 {
		out.Error = strings.Join(failures, "; ")
		return out
	}
	out.Success = true
	log.Printf("✓ executor: %s closed %d %s position(s)", acct.Name, len(plans), intent.Symbol)
	return out
}

// submit places one order under the per-account limiter and call timeout.
// Transport failures count against the gateway circuit; venue rejections do not.
func (e *Executor) submit(ctx context.Context, acct config.Account, gw exchange.Gateway, req exchange.OrderRequest) (exchange.OrderResult, time.Duration, error) {
	if err := e.limiter(acct.Name).Wait(ctx); err != nil {
		return exchange.OrderResult{}, 0, fmt.Errorf("rate limit: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := gw.PlaceOrder(cctx, req)
	latency := time.Since(start)
	if e.Metrics != nil {
		e.Metrics.OrderLatency.RecordDuration(latency)
	}
	e.recordHealth(acct.Name, err)
	return res, latency, err
}

func (e *Executor) positions(ctx context.Context, acct config.Account, gw exchange.Gateway, symbol string) ([]exchange.Position, error) {
	if err := e.limiter(acct.Name).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	positions, err := gw.GetPositions(cctx, symbol)
	e.recordHealth(acct.Name, err)
	return positions, err
}

func (e *Executor) recordHealth(name string, err error) {
	var apiErr *exchange.APIError
	switch {
	case err == nil:
		e.Pool.RecordSuccess(name)
	case errors.As(err, &apiErr):
		// The venue answered; the connection is fine.
	default:
		e.Pool.RecordFailure(name)
	}
}

func (e *Executor) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if e.Prices == nil {
		return decimal.Zero, errors.New("no market data source")
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.Prices.LastPrice(cctx, symbol)
}

func (e *Executor) limiter(name string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.ratePerSec), 1)
		e.limiters[name] = l
	}
	return l
}

// SetLeverageAll sets leverage for symbols on every account. Failures are
// logged and returned joined; they never stop the remaining accounts.
func (e *Executor) SetLeverageAll(ctx context.Context, symbols []string) error {
	var errs []error
	for _, acct := range e.Accounts {
		gw, err := e.Pool.Get(ctx, acct)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, sym := range symbols {
			cctx, cancel := context.WithTimeout(ctx, e.timeout)
			err := gw.SetLeverage(cctx, sym, acct.Leverage, marginMode(acct))
			cancel()
			if err != nil {
				log.Printf("⚠️ executor: %s set leverage %s x%d failed: %v", acct.Name, sym, acct.Leverage, err)
				errs = append(errs, fmt.Errorf("%s %s: %w", acct.Name, sym, err))
				continue
			}
			log.Printf("✓ executor: %s leverage %s x%d (%s)", acct.Name, sym, acct.Leverage, marginMode(acct))
		}
	}
	return errors.Join(errs...)
}
