package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemMetrics tracks pipeline throughput and latency. Counters are mirrored
// into a private Prometheus registry served by Handler.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	OrderLatency    *LatencyHistogram
	PipelineLatency *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	messagesSeen     uint64
	signalsDetected  uint64
	ordersPlaced     uint64
	ordersFailed     uint64
	messagesReplayed uint64
	persistFailures  uint64
	restarts         uint64
	apiRequests      uint64
	apiErrors        uint64

	gatewayTotal     int
	gatewayUnhealthy int
	supervisorState  string

	registry      *prometheus.Registry
	promMessages  *prometheus.CounterVec
	promSignals   *prometheus.CounterVec
	promSkipped   *prometheus.CounterVec
	promOrders    *prometheus.CounterVec
	promLatency   *prometheus.HistogramVec
	promReplayed  prometheus.Counter
	promPersist   prometheus.Counter
	promRestarts  *prometheus.CounterVec
	promGateways  *prometheus.GaugeVec
	promConnected prometheus.Gauge
	promAPI       *prometheus.CounterVec

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &SystemMetrics{
		OrderLatency:    NewLatencyHistogram(1000),
		PipelineLatency: NewLatencyHistogram(1000),
		DBLatency:       NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		supervisorState: "disconnected",
		registry:        reg,
		promMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_trader_messages_total",
			Help: "Channel messages received, by source",
		}, []string{"source"}),
		promSignals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_trader_signals_total",
			Help: "Actionable signals detected, by kind and source",
		}, []string{"kind", "source"}),
		promSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_trader_signals_skipped_total",
			Help: "Signals dropped before execution, by reason",
		}, []string{"reason"}),
		promOrders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_trader_orders_total",
			Help: "Per-account execution outcomes",
		}, []string{"account", "kind", "result"}),
		promLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signal_trader_order_latency_seconds",
			Help:    "Per-account execution latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"account"}),
		promReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "signal_trader_catchup_replayed_total",
			Help: "Messages executed by the catch-up scanner",
		}),
		promPersist: f.NewCounter(prometheus.CounterOpts{
			Name: "signal_trader_ledger_persist_failures_total",
			Help: "Ledger writes that failed and stayed in memory",
		}),
		promRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_trader_session_restarts_total",
			Help: "Supervisor session restarts, by reason",
		}, []string{"reason"}),
		promGateways: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_trader_gateways",
			Help: "Cached exchange gateways, by health",
		}, []string{"health"}),
		promConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "signal_trader_listener_connected",
			Help: "1 while the channel listener is streaming",
		}),
		promAPI: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_trader_api_requests_total",
			Help: "HTTP API requests, by status class",
		}, []string{"class"}),
		lastUpdate: time.Now(),
	}
}

// Handler serves the Prometheus exposition format.
func (m *SystemMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *SystemMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RecordMessage counts one received channel message.
func (m *SystemMetrics) RecordMessage(source string) {
	atomic.AddUint64(&m.messagesSeen, 1)
	m.promMessages.WithLabelValues(source).Inc()
}

// RecordSignal counts one actionable intent.
func (m *SystemMetrics) RecordSignal(kind, source string) {
	atomic.AddUint64(&m.signalsDetected, 1)
	m.promSignals.WithLabelValues(kind, source).Inc()
}

// RecordSkip counts a signal dropped before execution.
func (m *SystemMetrics) RecordSkip(reason string) {
	m.promSkipped.WithLabelValues(reason).Inc()
}

// RecordOrder counts one account outcome.
func (m *SystemMetrics) RecordOrder(account, kind string, ok bool, latency time.Duration) {
	result := "success"
	if ok {
		atomic.AddUint64(&m.ordersPlaced, 1)
	} else {
		atomic.AddUint64(&m.ordersFailed, 1)
		result = "failure"
	}
	m.promOrders.WithLabelValues(account, kind, result).Inc()
	if latency > 0 {
		m.promLatency.WithLabelValues(account).Observe(latency.Seconds())
	}
}

// RecordAPI counts one HTTP API request.
func (m *SystemMetrics) RecordAPI(status int, latency time.Duration) {
	atomic.AddUint64(&m.apiRequests, 1)
	if status >= 400 {
		atomic.AddUint64(&m.apiErrors, 1)
	}
	m.APILatency.RecordDuration(latency)
	m.promAPI.WithLabelValues(strconv.Itoa(status/100)+"xx").Inc()
}

// RecordReplayed counts messages executed by catch-up.
func (m *SystemMetrics) RecordReplayed(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.messagesReplayed, uint64(n))
	m.promReplayed.Add(float64(n))
}

// RecordPersistFailure counts one failed ledger write.
func (m *SystemMetrics) RecordPersistFailure() {
	atomic.AddUint64(&m.persistFailures, 1)
	m.promPersist.Inc()
}

// RecordRestart counts one supervisor session restart.
func (m *SystemMetrics) RecordRestart(reason string) {
	atomic.AddUint64(&m.restarts, 1)
	m.promRestarts.WithLabelValues(reason).Inc()
}

// SetSupervisorState records the listener state name.
func (m *SystemMetrics) SetSupervisorState(state string) {
	m.mu.Lock()
	m.supervisorState = state
	m.mu.Unlock()
	if state == "listening" {
		m.promConnected.Set(1)
	} else {
		m.promConnected.Set(0)
	}
}

// SetGatewayPoolStats updates gateway pool statistics.
func (m *SystemMetrics) SetGatewayPoolStats(total, unhealthy int) {
	m.mu.Lock()
	m.gatewayTotal = total
	m.gatewayUnhealthy = unhealthy
	m.lastUpdate = time.Now()
	m.mu.Unlock()
	m.promGateways.WithLabelValues("healthy").Set(float64(total - unhealthy))
	m.promGateways.WithLabelValues("unhealthy").Set(float64(unhealthy))
}

// MetricsSnapshot is a point-in-time copy for the status API.
type MetricsSnapshot struct {
	OrderLatency      LatencyStats `json:"order_latency"`
	PipelineLatency   LatencyStats `json:"pipeline_latency"`
	DBLatency         LatencyStats `json:"db_latency"`
	APILatency        LatencyStats `json:"api_latency"`
	APIRequests       uint64       `json:"api_requests"`
	APIErrors         uint64       `json:"api_errors"`
	MessagesSeen      uint64       `json:"messages_seen"`
	SignalsDetected   uint64       `json:"signals_detected"`
	OrdersPlaced      uint64       `json:"orders_placed"`
	OrdersFailed      uint64       `json:"orders_failed"`
	MessagesReplayed  uint64       `json:"messages_replayed"`
	PersistFailures   uint64       `json:"ledger_persist_failures"`
	Restarts          uint64       `json:"session_restarts"`
	SupervisorState   string       `json:"supervisor_state"`
	GatewaysTotal     int          `json:"gateways_total"`
	GatewaysUnhealthy int          `json:"gateways_unhealthy"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	state := m.supervisorState
	total, unhealthy := m.gatewayTotal, m.gatewayUnhealthy
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:      m.OrderLatency.Stats(),
		PipelineLatency:   m.PipelineLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		APILatency:        m.APILatency.Stats(),
		APIRequests:       atomic.LoadUint64(&m.apiRequests),
		APIErrors:         atomic.LoadUint64(&m.apiErrors),
		MessagesSeen:      atomic.LoadUint64(&m.messagesSeen),
		SignalsDetected:   atomic.LoadUint64(&m.signalsDetected),
		OrdersPlaced:      atomic.LoadUint64(&m.ordersPlaced),
		OrdersFailed:      atomic.LoadUint64(&m.ordersFailed),
		MessagesReplayed:  atomic.LoadUint64(&m.messagesReplayed),
		PersistFailures:   atomic.LoadUint64(&m.persistFailures),
		Restarts:          atomic.LoadUint64(&m.restarts),
		SupervisorState:   state,
		GatewaysTotal:     total,
		GatewaysUnhealthy: unhealthy,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		Timestamp:         time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
