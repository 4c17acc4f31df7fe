package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-trader/internal/pipeline"
	"signal-trader/internal/transport"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []transport.InboundMessage
	got  chan struct{}
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, msg transport.InboundMessage) pipeline.Result {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
	return pipeline.Result{Claimed: true}
}

func TestListenerDispatchesWatchedChannels(t *testing.T) {
	mem := transport.NewMemory()
	mem.Connect(context.Background())
	d := &recordingDispatcher{got: make(chan struct{}, 10)}

	var (
		mu     sync.Mutex
		states []State
	)
	l := New(mem, []int64{100}, d)
	l.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for l.State() != Listening && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.State() != Listening {
		t.Fatalf("expected listening, got %s", l.State())
	}

	mem.Post(200, 0, "ignored channel")
	mem.Post(100, 0, "做多 ETH")

	select {
	case <-d.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mem.Drop()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrStreamClosed) {
			t.Fatalf("expected ErrStreamClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not exit after drop")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.msgs) != 1 || d.msgs[0].ChannelID != 100 || d.msgs[0].Source != transport.SourceLive {
		t.Errorf("unexpected dispatched messages: %+v", d.msgs)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Listening, Disconnected}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestListenerSubscribeFailure(t *testing.T) {
	mem := transport.NewMemory() // never connected
	l := New(mem, []int64{1}, &recordingDispatcher{got: make(chan struct{}, 1)})
	if err := l.Run(context.Background()); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if l.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", l.State())
	}
}

func TestListenerStopsOnCancel(t *testing.T) {
	mem := transport.NewMemory()
	mem.Connect(context.Background())
	l := New(mem, []int64{1}, &recordingDispatcher{got: make(chan struct{}, 1)})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
