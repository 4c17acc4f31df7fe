package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-trader/internal/events"
)

// AlertFunc delivers an operator alert, e.g. through the notifier.
type AlertFunc func(ctx context.Context, title, body string)

// Monitor watches the bus, keeps metrics current, and raises alerts for
// ledger persistence failures and failed orders.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Alert   AlertFunc

	// Cooldown suppresses repeated alerts with the same title.
	Cooldown time.Duration

	lastSent map[string]time.Time
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	if m.Cooldown <= 0 {
		m.Cooldown = time.Minute
	}
	m.lastSent = make(map[string]time.Time)

	stream, unsub := m.Bus.SubscribeTopics([]events.Event{
		events.EventOrderOutcome,
		events.EventSupervisorState,
		events.EventScanCompleted,
		events.EventLedgerPersist,
		events.EventSignalSkipped,
	}, 100)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.handle(ctx, env)
			}
		}
	}()
}

func (m *Monitor) handle(ctx context.Context, env events.Envelope) {
	switch p := env.Payload.(type) {
	case events.OrderOutcome:
		if !p.Success {
			m.alert(ctx, "下单失败 "+p.Account, fmt.Sprintf("%s %s %s: %s", p.Kind, p.Direction, p.Symbol, p.Error))
		}
	case events.SupervisorState:
		if m.Metrics == nil {
			return
		}
		m.Metrics.SetSupervisorState(p.State)
		if p.State == "restarting" {
			m.Metrics.RecordRestart(restartLabel(p.Reason))
		}
	case events.ScanCompleted:
		if m.Metrics != nil {
			m.Metrics.RecordReplayed(p.Replayed)
		}
		if p.Errors > 0 {
			log.Printf("⚠️ monitor: catch-up scan had %d error(s)", p.Errors)
		}
	case events.LedgerPersistFailed:
		if m.Metrics != nil {
			m.Metrics.RecordPersistFailure()
		}
		m.alert(ctx, "账本写入失败", p.Error)
	case events.SignalSkipped:
		if m.Metrics != nil {
			m.Metrics.RecordSkip(p.Reason)
		}
	}
}

func (m *Monitor) alert(ctx context.Context, title, body string) {
	if m.Alert == nil {
		return
	}
	now := time.Now()
	if last, ok := m.lastSent[title]; ok && now.Sub(last) < m.Cooldown {
		return
	}
	m.lastSent[title] = now
	m.Alert(ctx, title, formatAlert(now, body))
}

// restartLabel keeps the metric label set small: listener exits carry the
// error text after a colon.
func restartLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}

func formatAlert(at time.Time, msg string) string {
	return "[" + at.Format(time.RFC3339) + "] " + msg
}
