package events

import (
	"sync"
	"sync/atomic"
)

// Envelope tags a payload with its topic for multi-topic subscribers.
type Envelope struct {
	Topic   Event `json:"topic"`
	Payload any   `json:"payload"`
}

// Bus is a lightweight pub/sub broker using channels. Publish never blocks:
// a slow subscriber loses events rather than stalling the pipeline.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	taps    map[chan Envelope]map[Event]bool
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Event][]chan any),
		taps: make(map[chan Envelope]map[Event]bool),
	}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// SubscribeTopics delivers every listed topic on one channel, tagged.
func (b *Bus) SubscribeTopics(topics []Event, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	set := make(map[Event]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	b.taps[ch] = set

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.taps, ch)
			close(ch)
		})
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
	for ch, set := range b.taps {
		if !set[e] {
			continue
		}
		select {
		case ch <- Envelope{Topic: e, Payload: payload}:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events discarded because a subscriber buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
