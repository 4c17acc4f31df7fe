// Package supervisor owns the transport session: connect, run the listener
// and the catch-up scanner, and restart everything in-process on schedule,
// on a failed health probe, or when the live stream ends.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"signal-trader/internal/events"
	"signal-trader/internal/transport"
)

// Restart reasons.
const (
	ReasonScheduled    = "scheduled"
	ReasonHealth       = "health_check_failed"
	ReasonListenerExit = "listener_exit"
	ReasonShutdown     = "shutdown"
)

// Supervisor states.
const (
	StateConnecting   = "connecting"
	StateListening    = "listening"
	StateRestarting   = "restarting"
	StateDisconnected = "disconnected"
	StateStopped      = "stopped"
)

// Runner is a per-session component that blocks until it ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Scanner runs in the background for the session and closes the returned
// channel when it has stopped.
type Scanner interface {
	Start(ctx context.Context) <-chan struct{}
}

// Config holds supervisor timings.
type Config struct {
	RestartInterval time.Duration
	HealthInterval  time.Duration
	ConnectTimeout  time.Duration
	ReconnectDelay  time.Duration
	MaxBackoff      time.Duration
}

func (c *Config) defaults() {
	if c.RestartInterval <= 0 {
		c.RestartInterval = 30 * time.Minute
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxBackoff < c.ReconnectDelay {
		c.MaxBackoff = 5 * time.Minute
	}
}

// Supervisor restarts sessions until its context ends.
type Supervisor struct {
	Transport   transport.Transport
	NewListener func() Runner
	Scanner     Scanner

	// Startup runs once, after the first successful connect.
	Startup func(ctx context.Context) error
	// Announce notifies the operator of restarts.
	Announce func(ctx context.Context, title, body string)
	// OnState observes every state change.
	OnState func(events.SupervisorState)

	cfg      Config
	restarts atomic.Int32
}

func New(t transport.Transport, newListener func() Runner, scanner Scanner, cfg Config) *Supervisor {
	cfg.defaults()
	return &Supervisor{
		Transport:   t,
		NewListener: newListener,
		Scanner:     scanner,
		cfg:         cfg,
	}
}

// Restarts returns how many sessions have been restarted.
func (s *Supervisor) Restarts() int {
	return int(s.restarts.Load())
}

// Run blocks until ctx ends. It only returns an error for a session that
// can never succeed, such as an unauthorized transport.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectDelay
	startupDone := false
	defer s.setState(StateStopped, 0, "")

	for session := 1; ; session++ {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting, session, "")
		cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		err := s.Transport.Connect(cctx)
		cancel()
		if err != nil {
			if errors.Is(err, transport.ErrNotAuthorized) {
				return fmt.Errorf("supervisor: %w", err)
			}
			log.Printf("❌ supervisor: connect failed (session %d), retrying in %v: %v", session, backoff, err)
			s.setState(StateDisconnected, session, err.Error())
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}
		backoff = s.cfg.ReconnectDelay

		if !startupDone && s.Startup != nil {
			if err := s.Startup(ctx); err != nil {
				log.Printf("⚠️ supervisor: startup tasks incomplete: %v", err)
			}
		}
		startupDone = true

		reason := s.runSession(ctx, session)
		if err := s.Transport.Close(); err != nil {
			log.Printf("⚠️ supervisor: transport close: %v", err)
		}
		if ctx.Err() != nil {
			log.Printf("supervisor: session %d ended (%s)", session, ReasonShutdown)
			return nil
		}

		restarts := s.restarts.Add(1)
		log.Printf("🔄 supervisor: restarting session %d (%s)", session, reason)
		s.setState(StateRestarting, session, reason)
		if s.Announce != nil {
			s.Announce(ctx, "机器人重启", fmt.Sprintf("会话 %d 重启: %s (累计 %d 次)", session, reason, restarts))
		}
		if reason != ReasonScheduled && !sleep(ctx, s.cfg.ReconnectDelay) {
			return nil
		}
	}
}

// runSession starts the listener and scanner and waits for the first
// restart trigger. Both are stopped before it returns.
func (s *Supervisor) runSession(ctx context.Context, session int) string {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenerErr := make(chan error, 1)
	l := s.NewListener()
	go func() { listenerErr <- l.Run(sctx) }()

	var scanDone <-chan struct{}
	if s.Scanner != nil {
		scanDone = s.Scanner.Start(sctx)
	}

	s.setState(StateListening, session, "")
	log.Printf("✓ supervisor: session %d running (restart in %v)", session, s.cfg.RestartInterval)

	restart := time.NewTimer(s.cfg.RestartInterval)
	defer restart.Stop()
	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()

	var (
		reason         string
		listenerExited bool
	)
wait:
	for {
		select {
		case <-ctx.Done():
			reason = ReasonShutdown
			break wait
		case <-restart.C:
			reason = ReasonScheduled
			break wait
		case <-health.C:
			hctx, hcancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
			ok := s.Transport.IsConnected(hctx)
			hcancel()
			if !ok {
				reason = ReasonHealth
				break wait
			}
		case err := <-listenerErr:
			listenerExited = true
			reason = ReasonListenerExit
			if err != nil {
				reason += ": " + err.Error()
			}
			break wait
		}
	}

	cancel()
	if !listenerExited {
		<-listenerErr
	}
	if scanDone != nil {
		<-scanDone
	}
	return reason
}

func (s *Supervisor) setState(state string, session int, reason string) {
	if s.OnState == nil {
		return
	}
	s.OnState(events.SupervisorState{
		State:    state,
		Session:  session,
		Reason:   reason,
		Restarts: int(s.restarts.Load()),
		At:       time.Now(),
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
