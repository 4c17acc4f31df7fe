package engine

import (
	"time"

	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/internal/persistence"
)

// Status is the runtime snapshot served by /api/status.
type Status struct {
	Instance   string                         `json:"instance"`
	Version    string                         `json:"version"`
	DryRun     bool                           `json:"dry_run"`
	StartedAt  time.Time                      `json:"started_at"`
	ServerTime time.Time                      `json:"server_time"`
	Supervisor events.SupervisorState         `json:"supervisor"`
	Listener   string                         `json:"listener"`
	Channels   []int64                        `json:"channels"`
	Accounts   []AccountInfo                  `json:"accounts"`
	Ledger     LedgerInfo                     `json:"ledger"`
	Gateways   GatewayInfo                    `json:"gateways"`
	Prices     map[string]string              `json:"prices"`
	Metrics    monitor.MetricsSnapshot        `json:"metrics"`
	Audit      persistence.BatchWriterMetrics `json:"audit"`
}

// AccountInfo describes one configured account without its credentials.
type AccountInfo struct {
	Name     string            `json:"name"`
	Exchange string            `json:"exchange"`
	Paper    bool              `json:"paper"`
	Leverage int               `json:"leverage"`
	Margin   string            `json:"margin_mode"`
	Sizes    map[string]string `json:"fixed_size"`
}

// LedgerInfo reports dedup ledger size.
type LedgerInfo struct {
	Backend string `json:"backend"`
	Total   int    `json:"total"`
	Pending int    `json:"pending"`
}

// GatewayInfo reports the exchange connection pool.
type GatewayInfo struct {
	Total     int      `json:"total"`
	Unhealthy []string `json:"unhealthy,omitempty"`
}
