// Package reconciliation replays channel messages the live stream missed.
package reconciliation

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-trader/internal/events"
	"signal-trader/internal/pipeline"
	"signal-trader/internal/transport"
)

// Ledger is the part of the dedup ledger the scanner uses.
type Ledger interface {
	Reload(ctx context.Context) error
	IsProcessed(channel, id int64) bool
	Seed(ctx context.Context, channel int64, ids []int64) (int, error)
}

// Dispatcher is the shared claim → execute path.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg transport.InboundMessage) pipeline.Result
}

// Pager lists recent channel history.
type Pager interface {
	PageRecent(ctx context.Context, channel int64, limit int) ([]transport.InboundMessage, error)
}

// Report summarizes one scan cycle.
type Report struct {
	Timestamp time.Time
	Channels  int
	Scanned   int
	Replayed  int
	Skipped   int
	Seeded    int
	Errors    int
	Took      time.Duration
}

// Service handles periodic catch-up.
type Service struct {
	pager      Pager
	ledger     Ledger
	dispatcher Dispatcher
	bus        *events.Bus
	channels   []int64
	window     int
	interval   time.Duration
	timeout    time.Duration

	mu   sync.Mutex
	held map[int64]bool // channels waiting for their first seed
}

// NewService creates a new catch-up scanner.
func NewService(pager Pager, ledger Ledger, dispatcher Dispatcher, channels []int64, window int, interval time.Duration) *Service {
	if window <= 0 {
		window = 20
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		pager:      pager,
		ledger:     ledger,
		dispatcher: dispatcher,
		channels:   channels,
		window:     window,
		interval:   interval,
		timeout:    10 * time.Second,
		held:       make(map[int64]bool),
	}
}

// HoldUntilSeeded keeps channel out of replay until a cycle manages to page
// it; that page is then marked processed instead of executed.
func (s *Service) HoldUntilSeeded(channel int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[channel] = true
}

// Held reports whether channel still waits for its seed.
func (s *Service) Held(channel int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[channel]
}

// SetBus publishes a ScanCompleted event after each cycle.
func (s *Service) SetBus(bus *events.Bus) {
	s.bus = bus
}

// Start runs a cycle every interval until ctx ends. The returned channel is
// closed when the loop has exited.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report := s.RunOnce(ctx)
				s.handleReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("✓ Catch-up scanner started (interval: %v, window: %d)", s.interval, s.window)
	return done
}

// RunOnce reloads the ledger, pages each channel, and routes every
// unprocessed message oldest first through the dispatcher.
func (s *Service) RunOnce(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	report := Report{Timestamp: start, Channels: len(s.channels)}

	if err := s.ledger.Reload(ctx); err != nil {
		log.Printf("⚠️ Catch-up: ledger reload failed, using in-memory state: %v", err)
		report.Errors++
	}

	for _, ch := range s.channels {
		if ctx.Err() != nil {
			break
		}
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		msgs, err := s.pager.PageRecent(pctx, ch, s.window)
		cancel()
		if err != nil {
			log.Printf("❌ Catch-up: page channel %d failed: %v", ch, err)
			report.Errors++
			continue
		}

		if s.held[ch] {
			n, err := s.seed(ctx, ch, msgs)
			report.Seeded += n
			if err != nil {
				log.Printf("⚠️ Catch-up: seed channel %d kept in memory only: %v", ch, err)
				report.Errors++
			}
			delete(s.held, ch)
			continue
		}

		for i := len(msgs) - 1; i >= 0; i-- {
			msg := msgs[i]
			report.Scanned++
			if msg.Text == "" || s.ledger.IsProcessed(ch, msg.MessageID) {
				continue
			}
			msg.ChannelID = ch
			msg.Source = transport.SourceScan

			res := s.dispatcher.Dispatch(ctx, msg)
			if res.PersistErr != nil {
				report.Errors++
			}
			if !res.Claimed {
				continue
			}
			switch {
			case res.Skipped:
				report.Skipped++
			case res.Dispatched:
				report.Replayed++
				log.Printf("Catch-up: replaying %d/%d → %s", ch, msg.MessageID, res.Intent)
			}
		}
	}

	report.Took = time.Since(start)
	return report
}

func (s *Service) seed(ctx context.Context, ch int64, msgs []transport.InboundMessage) (int, error) {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	n, err := s.ledger.Seed(ctx, ch, ids)
	log.Printf("💾 Catch-up: seeded %d message(s) for channel %d", n, ch)
	return n, err
}

func (s *Service) handleReport(r Report) {
	if r.Replayed > 0 || r.Skipped > 0 || r.Seeded > 0 || r.Errors > 0 {
		log.Printf("📊 Catch-up: channels=%d scanned=%d replayed=%d skipped=%d seeded=%d errors=%d (%v)",
			r.Channels, r.Scanned, r.Replayed, r.Skipped, r.Seeded, r.Errors, r.Took)
	}
	if s.bus != nil {
		s.bus.Publish(events.EventScanCompleted, events.ScanCompleted{
			Channels: r.Channels,
			Scanned:  r.Scanned,
			Replayed: r.Replayed,
			Skipped:  r.Skipped,
			Errors:   r.Errors,
			Took:     r.Took,
			At:       r.Timestamp,
		})
	}
}
