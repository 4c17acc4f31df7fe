package transport

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Transport. Posts are kept per channel and fanned
// out to live subscribers; used by dry runs and tests.
type Memory struct {
	mu        sync.Mutex
	connected bool
	history   map[int64][]InboundMessage
	subs      map[chan InboundMessage][]int64
	sent      map[int64][]string
	nextID    map[int64]int64

	// FailConnect, when set, is returned by Connect.
	FailConnect error
}

func NewMemory() *Memory {
	return &Memory{
		history: make(map[int64][]InboundMessage),
		subs:    make(map[chan InboundMessage][]int64),
		sent:    make(map[int64][]string),
		nextID:  make(map[int64]int64),
	}
}

func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailConnect != nil {
		return m.FailConnect
	}
	m.connected = true
	return nil
}

// Post appends a message to channel history and delivers it to live
// subscribers. A zero id is assigned the next id for the channel.
func (m *Memory) Post(channel, id int64, text string) InboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 {
		id = m.nextID[channel] + 1
	}
	if id > m.nextID[channel] {
		m.nextID[channel] = id
	}
	msg := InboundMessage{ChannelID: channel, MessageID: id, Text: text, ReceivedAt: time.Now()}
	m.history[channel] = append(m.history[channel], msg)

	for ch, channels := range m.subs {
		for _, c := range channels {
			if c == channel {
				live := msg
				live.Source = SourceLive
				select {
				case ch <- live:
				default:
				}
				break
			}
		}
	}
	return msg
}

// Backfill adds a message to history only, as if it was posted while offline.
func (m *Memory) Backfill(channel, id int64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[channel] = append(m.history[channel], InboundMessage{ChannelID: channel, MessageID: id, Text: text, ReceivedAt: time.Now()})
	if id > m.nextID[channel] {
		m.nextID[channel] = id
	}
}

func (m *Memory) Subscribe(ctx context.Context, channels []int64) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	ch := make(chan InboundMessage, 64)
	m.subs[ch] = append([]int64(nil), channels...)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (m *Memory) PageRecent(ctx context.Context, channel int64, limit int) ([]InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	msgs := append([]InboundMessage(nil), m.history[channel]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].MessageID > msgs[j].MessageID })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	for i := range msgs {
		msgs[i].Source = SourceScan
	}
	return msgs, nil
}

func (m *Memory) IsConnected(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) Send(ctx context.Context, channel int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.sent[channel] = append(m.sent[channel], text)
	return nil
}

// Sent returns texts sent to channel.
func (m *Memory) Sent(channel int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent[channel]...)
}

// Drop simulates a lost connection: live streams end and probes fail.
func (m *Memory) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Memory) Close() error {
	m.Drop()
	return nil
}
