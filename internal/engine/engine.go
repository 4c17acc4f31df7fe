package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/events"
	"signal-trader/internal/gateway"
	"signal-trader/internal/ledger"
	"signal-trader/internal/listener"
	"signal-trader/internal/market"
	"signal-trader/internal/monitor"
	"signal-trader/internal/notify"
	"signal-trader/internal/order"
	"signal-trader/internal/persistence"
	"signal-trader/internal/pipeline"
	"signal-trader/internal/reconciliation"
	"signal-trader/internal/signal"
	"signal-trader/internal/supervisor"
	"signal-trader/internal/transport"
	"signal-trader/internal/transport/telegram"
	"signal-trader/pkg/config"
	"signal-trader/pkg/db"
	exchange "signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/exchanges/okx"
	"signal-trader/pkg/instance"
)

// Deps overrides collaborators New would otherwise build from config.
// Every field is optional.
type Deps struct {
	Transport   transport.Transport
	Factory     gateway.Factory
	Prices      exchange.PriceSource
	Notifier    notify.Notifier
	DB          *db.Database
	LedgerStore ledger.Store
	Bus         *events.Bus
	Metrics     *monitor.SystemMetrics
	Version     string
}

// Engine owns one pipeline: ledger, extractor, executor, reporter, the
// transport session and everything observing them.
type Engine struct {
	cfg      *config.Config
	channels []int64
	accounts []config.Account

	bus       *events.Bus
	metrics   *monitor.SystemMetrics
	database  *db.Database
	ownsDB    bool
	audit     *persistence.BatchWriter
	closers   []io.Closer
	ledger    *ledger.Ledger
	transport transport.Transport
	pool      *gateway.Manager
	market    *market.Service
	executor  *order.Executor
	reporter  *pipeline.Reporter
	pipeline  *pipeline.Context
	scanner   *reconciliation.Service
	super     *supervisor.Supervisor
	monitor   *monitor.Monitor
	health    *healthServer

	instance  string
	version   string
	startedAt time.Time

	mu     sync.Mutex
	state  events.SupervisorState
	live   atomic.Int32 // listener.State of the current session
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires every component. The ledger is loaded before New returns, so
// a store that cannot be read fails startup.
func New(channels []int64, accounts []config.Account, cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is nil")
	}
	e := &Engine{
		cfg:       cfg,
		channels:  channels,
		accounts:  accounts,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		database:  deps.DB,
		transport: deps.Transport,
		instance:  instance.Label(),
		version:   deps.Version,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		state:     events.SupervisorState{State: supervisor.StateDisconnected},
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.metrics == nil {
		e.metrics = monitor.NewSystemMetrics()
	}
	if e.transport == nil {
		e.transport = telegram.New(telegram.Config{
			APIID:      cfg.TelegramAPIID,
			APIHash:    cfg.TelegramAPIHash,
			SessionDir: cfg.SessionDir,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if e.database == nil {
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		e.database = database
		e.ownsDB = true
	}
	if err := db.ApplyMigrations(e.database); err != nil {
		e.closeAll()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	e.audit = persistence.NewBatchWriter(e.database, 50, time.Second)
	e.audit.OnFlush = e.metrics.DBLatency.RecordDuration

	store := deps.LedgerStore
	if store == nil {
		s, closer, err := ledger.Open(ctx, ledger.Options{
			Backend:     cfg.LedgerBackend,
			Path:        cfg.LedgerPath,
			RedisURL:    cfg.RedisURL,
			DatabaseURL: cfg.DatabaseURL,
			DB:          e.database,
		})
		if err != nil {
			e.closeAll()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		if closer != nil {
			e.closers = append(e.closers, closer)
		}
		store = s
	}
	e.ledger = ledger.New(store)
	e.ledger.OnPersistError = func(err error) {
		e.bus.Publish(events.EventLedgerPersist, events.LedgerPersistFailed{Error: err.Error(), At: time.Now()})
	}
	if err := e.ledger.Load(ctx); err != nil {
		e.closeAll()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	total, _ := e.ledger.Stats()
	log.Printf("💾 ledger: %d processed message(s) loaded (%s)", total, backendName(cfg.LedgerBackend))

	prices := deps.Prices
	if prices == nil {
		prices = okx.NewPublicClient("")
	}
	e.market = market.NewService(prices, 2*time.Second, cfg.RequestTimeout, e.bus)

	factory := deps.Factory
	if factory == nil {
		if cfg.DryRun {
			factory = gateway.DryRunFactory(order.DryRunConfig{Prices: e.market, SlippageBps: 2, LatencyMinMs: 20, LatencyMaxMs: 120})
		} else {
			factory = gateway.DefaultFactory
		}
	}
	poolCfg := gateway.DefaultConfig()
	poolCfg.PingTimeout = cfg.RequestTimeout
	e.pool = gateway.NewManager(factory, poolCfg)

	e.executor = order.NewExecutor(accounts, e.pool, e.market, order.NewPlanner(cfg.TakeProfitPct, cfg.StopLossPct), order.Options{
		Timeout:    cfg.RequestTimeout,
		RatePerSec: cfg.OrderRatePerSec,
		Metrics:    e.metrics,
	})

	notifier := deps.Notifier
	if notifier == nil {
		notifier = buildNotifier(ctx, cfg, e.instance)
	}
	e.reporter = &pipeline.Reporter{
		Notifier:   notifier,
		Sender:     e.transport,
		LogGroupID: cfg.LogGroupID,
		Audit:      e.audit,
		Bus:        e.bus,
		Instance:   e.instance,
	}
	e.pipeline = &pipeline.Context{
		Ledger:       e.ledger,
		Extractor:    signal.NewExtractor(),
		Executor:     e.executor,
		Prices:       e.market,
		Reporter:     e.reporter,
		Bus:          e.bus,
		Metrics:      e.metrics,
		DeviationPct: decimal.NewFromFloat(cfg.PriceDeviationPct),
		PriceTimeout: cfg.RequestTimeout,
	}

	e.scanner = reconciliation.NewService(e.transport, e.ledger, e.pipeline, channels, cfg.ScanWindowSize, cfg.CatchUpInterval)
	e.scanner.SetBus(e.bus)

	e.super = supervisor.New(e.transport, func() supervisor.Runner {
		l := listener.New(e.transport, channels, e.pipeline)
		l.OnState = e.onListenerState
		return l
	}, e.scanner, supervisor.Config{
		RestartInterval: cfg.RestartInterval,
		HealthInterval:  cfg.HealthInterval,
		ConnectTimeout:  3 * cfg.RequestTimeout,
		ReconnectDelay:  cfg.ReconnectDelay,
	})
	e.super.Startup = e.startup
	e.super.Announce = e.reporter.Announce
	e.super.OnState = e.onState

	e.monitor = &monitor.Monitor{
		Bus:     e.bus,
		Metrics: e.metrics,
		Alert:   e.reporter.Announce,
	}
	e.health = newHealthServer(cfg.GRPCHealthAddr)

	log.Printf("✓ engine: %d channel(s), %d account(s), dry_run=%v", len(channels), len(accounts), cfg.DryRun)
	return e, nil
}

// Run blocks until ctx ends or Stop is called. In-flight executions are
// allowed to finish and report before it returns.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer close(e.done)
	defer cancel()

	e.pool.Start(ctx)
	e.monitor.Start(ctx)
	e.market.Watch(ctx, e.cfg.StartupSymbols, e.cfg.HealthInterval)
	go e.poolStatsLoop(ctx)
	if err := e.health.Start(); err != nil {
		log.Printf("⚠️ engine: grpc health disabled: %v", err)
	}

	err := e.super.Run(ctx)

	log.Println("engine: waiting for in-flight executions")
	if !waitTimeout(e.pipeline.Wait, 2*time.Minute) {
		log.Println("⚠️ engine: in-flight executions still running at shutdown")
	}
	e.pool.Stop()
	e.health.Stop()
	e.closeAll()
	return err
}

// Stop cancels Run and waits for it to unwind.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		e.closeAll()
		return
	}
	cancel()
	<-e.done
}

// Bus exposes the event bus to the API websocket hub.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Metrics exposes the metrics registry to /metrics.
func (e *Engine) Metrics() *monitor.SystemMetrics { return e.metrics }

// DB exposes audit queries.
func (e *Engine) DB() ReadOnlyDB { return e.database }

// Pipeline exposes the shared claim → execute path, e.g. for manual injection in dry runs.
func (e *Engine) Pipeline() *pipeline.Context { return e.pipeline }

func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	total, pending := e.ledger.Stats()
	pool := e.pool.Stats()

	prices := make(map[string]string)
	for sym, p := range e.market.Snapshot() {
		prices[sym] = p.String()
	}

	accounts := make([]AccountInfo, 0, len(e.accounts))
	for _, a := range e.accounts {
		sizes := make(map[string]string, len(a.FixedSize))
		for coin, sz := range a.FixedSize {
			sizes[coin] = sz.String()
		}
		accounts = append(accounts, AccountInfo{
			Name:     a.Name,
			Exchange: a.Exchange,
			Paper:    a.Paper(),
			Leverage: a.Leverage,
			Margin:   a.MarginMode,
			Sizes:    sizes,
		})
	}

	return Status{
		Instance:   e.instance,
		Version:    e.version,
		DryRun:     e.cfg.DryRun,
		StartedAt:  e.startedAt,
		ServerTime: time.Now(),
		Supervisor: state,
		Listener:   listener.State(e.live.Load()).String(),
		Channels:   e.channels,
		Accounts:   accounts,
		Ledger:     LedgerInfo{Backend: backendName(e.cfg.LedgerBackend), Total: total, Pending: pending},
		Gateways:   GatewayInfo{Total: pool.TotalGateways, Unhealthy: pool.Unhealthy},
		Prices:     prices,
		Metrics:    e.metrics.GetSnapshot(),
		Audit:      e.audit.GetMetrics(),
	}
}

func (e *Engine) LedgerSnapshot() map[int64][]int64 {
	return e.ledger.Snapshot()
}

func (e *Engine) ReloadLedger(ctx context.Context) error {
	return e.ledger.Reload(ctx)
}

func (e *Engine) MarkProcessed(ctx context.Context, channel, id int64) error {
	return e.ledger.MarkProcessed(ctx, channel, id)
}

func (e *Engine) UnmarkProcessed(ctx context.Context, channel, id int64) error {
	return e.ledger.Unmark(ctx, channel, id)
}

func (e *Engine) onState(st events.SupervisorState) {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	e.bus.Publish(events.EventSupervisorState, st)
	e.health.SetServing(st.State == supervisor.StateListening)
}

func (e *Engine) onListenerState(st listener.State) {
	e.live.Store(int32(st))
	log.Printf("📡 engine: listener %s", st)
}

func (e *Engine) poolStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := e.pool.Stats()
			e.metrics.SetGatewayPoolStats(s.TotalGateways, s.UnhealthyCount)
		}
	}
}

// closeAll releases stores and the audit database. Safe to call twice.
func (e *Engine) closeAll() {
	if e.audit != nil {
		if err := e.audit.Close(); err != nil {
			log.Printf("⚠️ engine: audit flush: %v", err)
		}
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			log.Printf("⚠️ engine: close: %v", err)
		}
	}
	e.closers = nil
	if e.ownsDB && e.database != nil {
		e.database.Close()
		e.ownsDB = false
	}
}

func buildNotifier(ctx context.Context, cfg *config.Config, inst string) notify.Notifier {
	var multi notify.Multi
	if cfg.BarkKey != "" {
		multi = append(multi, notify.NewBark(cfg.BarkKey, cfg.BarkGroup))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramNotifyTo != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramNotifyTo)
		if err != nil {
			log.Printf("⚠️ engine: telegram notifier disabled: %v", err)
		} else {
			multi = append(multi, tg)
		}
	}
	if cfg.FCMCredentialsFile != "" {
		fcm, err := notify.NewFCM(ctx, cfg.FCMCredentialsFile, cfg.FCMTopic, map[string]string{"instance": inst})
		if err != nil {
			log.Printf("⚠️ engine: fcm notifier disabled: %v", err)
		} else {
			multi = append(multi, fcm)
		}
	}
	if len(multi) == 0 {
		log.Println("⚠️ engine: no notifier configured; notifications are logged only")
		return notify.Nop{}
	}
	return multi
}

func backendName(b string) string {
	if b == "" {
		return ledger.BackendFile
	}
	return b
}

func waitTimeout(wait func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

