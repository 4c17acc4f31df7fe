// Package gateway pools one exchange Gateway per configured account, with a
// circuit breaker and periodic health probes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrCircuitOpen     = errors.New("gateway circuit open")
)

// Factory creates a Gateway for an account.
type Factory func(acct config.Account) (exchange.Gateway, error)

// CachedGateway holds a Gateway with metadata for lifecycle management.
type CachedGateway struct {
	Gateway   exchange.Gateway
	Account   string
	Exchange  string
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config holds configuration for the Manager.
type Config struct {
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Consecutive failures before the circuit opens
	CircuitTimeout   time.Duration // Time to wait before retrying an open circuit
	PingTimeout      time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   2 * time.Minute,
		PingTimeout:      10 * time.Second,
	}
}

// Manager lazily creates and caches gateways keyed by account name.
type Manager struct {
	mu       sync.RWMutex
	gateways map[string]*CachedGateway

	config  Config
	factory Factory

	// bg outlives single requests; gateway background work runs on it.
	bg       context.Context
	bgCancel context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(factory Factory, cfg Config) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Manager{
		gateways: make(map[string]*CachedGateway),
		config:   cfg,
		factory:  factory,
		bg:       bg,
		bgCancel: cancel,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background health check loop.
func (m *Manager) Start(ctx context.Context) {
	if m.config.HealthInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.HealthCheckAll(ctx)
			}
		}
	}()
}

// Stop halts health checks and closes every gateway that supports it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.bgCancel()
	})
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cached := range m.gateways {
		if closer, ok := cached.Gateway.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		delete(m.gateways, name)
	}
}

// Get returns the account's gateway, creating it on first use. An open
// circuit returns ErrCircuitOpen until CircuitTimeout has passed.
func (m *Manager) Get(ctx context.Context, acct config.Account) (exchange.Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.gateways[acct.Name]; ok {
		if cached.Failures >= m.config.FailureThreshold && time.Since(cached.HealthyAt) < m.config.CircuitTimeout {
			return nil, fmt.Errorf("%s: %w", acct.Name, ErrCircuitOpen)
		}
		cached.LastUsed = time.Now()
		return cached.Gateway, nil
	}

	gw, err := m.factory(acct)
	if err != nil {
		return nil, fmt.Errorf("create gateway %s: %w", acct.Name, err)
	}
	now := time.Now()
	m.gateways[acct.Name] = &CachedGateway{
		Gateway:   gw,
		Account:   acct.Name,
		Exchange:  acct.Exchange,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	if syncer, ok := gw.(exchange.ClockSyncer); ok {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			syncer.StartTimeSync(m.bg)
		}()
	}
	return gw, nil
}

// Remove drops a cached gateway so the next Get rebuilds it.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[name]; ok {
		if closer, ok := cached.Gateway.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		delete(m.gateways, name)
	}
}

// RecordFailure counts a transport-level failure against the account.
func (m *Manager) RecordFailure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[name]; ok {
		cached.Failures++
		if cached.Failures == m.config.FailureThreshold {
			log.Printf("⚠️ gateway %s: circuit open after %d failures", name, cached.Failures)
		}
	}
}

// RecordSuccess resets the failure counter.
func (m *Manager) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.gateways[name]; ok {
		cached.Failures = 0
		cached.HealthyAt = time.Now()
	}
}

// PoolStats contains gateway pool statistics.
type PoolStats struct {
	TotalGateways  int            `json:"total_gateways"`
	ByExchange     map[string]int `json:"by_exchange"`
	UnhealthyCount int            `json:"unhealthy_count"`
	Unhealthy      []string       `json:"unhealthy,omitempty"`
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := PoolStats{
		TotalGateways: len(m.gateways),
		ByExchange:    make(map[string]int),
	}
	for name, cached := range m.gateways {
		stats.ByExchange[cached.Exchange]++
		if cached.Failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
			stats.Unhealthy = append(stats.Unhealthy, name)
		}
	}
	return stats
}

// HealthCheckAll pings every cached gateway that implements Pinger.
func (m *Manager) HealthCheckAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.healthCheck(ctx, name)
	}
}

func (m *Manager) healthCheck(ctx context.Context, name string) {
	m.mu.RLock()
	cached, ok := m.gateways[name]
	if !ok {
		m.mu.RUnlock()
		return
	}
	gw := cached.Gateway
	m.mu.RUnlock()

	pinger, ok := gw.(exchange.Pinger)
	if !ok {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	err := pinger.Ping(pctx)
	cancel()
	if err != nil {
		log.Printf("gateway %s: health check failed: %v", name, err)
		m.RecordFailure(name)
		return
	}
	m.RecordSuccess(name)
}
