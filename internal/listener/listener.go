// Package listener consumes the live channel stream for one session.
package listener

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"signal-trader/internal/pipeline"
	"signal-trader/internal/transport"
)

// ErrStreamClosed is returned when the transport ends the live stream.
var ErrStreamClosed = errors.New("live stream closed")

// State of the listener.
type State int32

const (
	Disconnected State = iota
	Connecting
	Listening
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	}
	return "disconnected"
}

// Dispatcher is the shared claim → execute path.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg transport.InboundMessage) pipeline.Result
}

// Listener routes every live post from watched channels to the dispatcher.
type Listener struct {
	transport  transport.Transport
	channels   []int64
	watched    map[int64]bool
	dispatcher Dispatcher
	state      atomic.Int32

	// OnState, if set, observes every transition.
	OnState func(State)
}

func New(t transport.Transport, channels []int64, d Dispatcher) *Listener {
	watched := make(map[int64]bool, len(channels))
	for _, ch := range channels {
		watched[ch] = true
	}
	return &Listener{
		transport:  t,
		channels:   channels,
		watched:    watched,
		dispatcher: d,
	}
}

// State returns the current state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	if l.OnState != nil {
		l.OnState(s)
	}
}

// Run subscribes and dispatches until the stream closes or ctx ends.
// Dispatch returns once the message is claimed; execution continues
// in the background and survives ctx cancellation.
func (l *Listener) Run(ctx context.Context) error {
	l.setState(Connecting)
	defer l.setState(Disconnected)

	stream, err := l.transport.Subscribe(ctx, l.channels)
	if err != nil {
		return err
	}
	l.setState(Listening)
	log.Printf("✓ listener: watching %d channel(s)", len(l.channels))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrStreamClosed
			}
			if !l.watched[msg.ChannelID] || msg.Text == "" {
				continue
			}
			msg.Source = transport.SourceLive
			res := l.dispatcher.Dispatch(ctx, msg)
			if res.PersistErr != nil {
				log.Printf("⚠️ listener: %d/%d claimed in memory only: %v", msg.ChannelID, msg.MessageID, res.PersistErr)
			}
		}
	}
}
