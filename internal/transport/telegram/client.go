// Package telegram implements transport.Transport as an MTProto user
// session on gotd/td. The session file is created once with scripts/tg_login.
package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"signal-trader/internal/transport"
)

// Config holds MTProto credentials.
type Config struct {
	APIID      int
	APIHash    string
	SessionDir string
}

// SessionPath is where the login script stores the user session.
func SessionPath(dir string) string {
	return filepath.Join(dir, "signal_trader.session.json")
}

// subscription is closed in two steps: done stops senders, then ch is
// closed once every in-flight send has returned.
type subscription struct {
	ch       chan transport.InboundMessage
	done     chan struct{}
	sending  sync.WaitGroup
	channels map[int64]bool
}

func newSubscription(channels []int64) *subscription {
	s := &subscription{
		ch:       make(chan transport.InboundMessage, 100),
		done:     make(chan struct{}),
		channels: make(map[int64]bool, len(channels)),
	}
	for _, id := range channels {
		s.channels[id] = true
	}
	return s
}

// shutdown must run with Client.mu held for writing, after s left subs.
func (s *subscription) shutdown() {
	close(s.done)
	go func() {
		s.sending.Wait()
		close(s.ch)
	}()
}

// Client is one MTProto session. After Close it may be connected again.
type Client struct {
	cfg Config

	mu    sync.RWMutex
	api   *tg.Client
	peers map[int64]tg.InputPeerClass
	subs  map[*subscription]struct{}

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		peers: make(map[int64]tg.InputPeerClass),
		subs:  make(map[*subscription]struct{}),
	}
}

// Connect starts the session and returns once it is authorized and the
// dialog list is loaded.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onChannelMessage)

	client := telegram.NewClient(c.cfg.APIID, c.cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: SessionPath(c.cfg.SessionDir)},
		UpdateHandler:  dispatcher,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	ready := make(chan error, 1)
	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return transport.ErrNotAuthorized
			}
			api := client.API()
			if err := c.loadPeers(ctx, api); err != nil {
				return err
			}
			c.mu.Lock()
			c.api = api
			c.mu.Unlock()
			c.connected.Store(true)
			ready <- nil

			<-ctx.Done()
			return nil
		})
		c.connected.Store(false)
		c.closeSubscriptions()
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("⚠️ telegram: session ended: %v", err)
		}
		if err == nil {
			err = transport.ErrNotConnected
		}
		select {
		case ready <- err:
		default:
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			c.Close()
			return fmt.Errorf("telegram connect: %w", err)
		}
		log.Printf("✓ telegram: session connected (%d dialogs)", c.peerCount())
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *Client) loadPeers(ctx context.Context, api *tg.Client) error {
	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      200,
	})
	if err != nil {
		return fmt.Errorf("get dialogs: %w", err)
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chat := range chats {
		c.rememberChat(chat)
	}
	return nil
}

// rememberChat caches the input peer for a chat. Callers hold mu.
func (c *Client) rememberChat(chat tg.ChatClass) {
	switch ch := chat.(type) {
	case *tg.Channel:
		c.peers[ch.ID] = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	case *tg.Chat:
		c.peers[ch.ID] = &tg.InputPeerChat{ChatID: ch.ID}
	}
}

func (c *Client) peerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

func (c *Client) peer(id int64) (tg.InputPeerClass, *tg.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil || !c.connected.Load() {
		return nil, nil, transport.ErrNotConnected
	}
	p, ok := c.peers[id]
	if !ok {
		return nil, nil, fmt.Errorf("channel %d not found in dialogs", id)
	}
	return p, c.api, nil
}

func (c *Client) onChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	if len(e.Channels) > 0 {
		c.mu.Lock()
		for _, ch := range e.Channels {
			c.rememberChat(ch)
		}
		c.mu.Unlock()
	}

	msg, ok := convert(u.Message, transport.SourceLive)
	if !ok {
		return nil
	}

	c.mu.RLock()
	var targets []*subscription
	for s := range c.subs {
		if s.channels[msg.ChannelID] {
			s.sending.Add(1)
			targets = append(targets, s)
		}
	}
	c.mu.RUnlock()

	for _, s := range targets {
		deliver(s, msg)
	}
	return nil
}

func deliver(s *subscription, msg transport.InboundMessage) {
	defer s.sending.Done()
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case s.ch <- msg:
	case <-s.done:
	case <-timer.C:
		log.Printf("⚠️ telegram: subscriber stalled, dropping message %d/%d", msg.ChannelID, msg.MessageID)
	}
}

// Subscribe streams new posts from channels until ctx ends or the session drops.
func (c *Client) Subscribe(ctx context.Context, channels []int64) (<-chan transport.InboundMessage, error) {
	if !c.connected.Load() {
		return nil, transport.ErrNotConnected
	}
	s := newSubscription(channels)

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.removeSubscription(s)
	}()
	return s.ch, nil
}

func (c *Client) removeSubscription(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[s]; ok {
		delete(c.subs, s)
		s.shutdown()
	}
}

func (c *Client) closeSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		delete(c.subs, s)
		s.shutdown()
	}
}

// PageRecent returns up to limit messages, newest first.
func (c *Client) PageRecent(ctx context.Context, channel int64, limit int) ([]transport.InboundMessage, error) {
	peer, api, err := c.peer(channel)
	if err != nil {
		return nil, err
	}
	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get history %d: %w", channel, err)
	}

	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	}

	out := make([]transport.InboundMessage, 0, len(raw))
	for _, m := range raw {
		msg, ok := convert(m, transport.SourceScan)
		if !ok {
			continue
		}
		if msg.ChannelID == 0 {
			msg.ChannelID = channel
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID > out[j].MessageID })
	return out, nil
}

// IsConnected probes the session with a cheap RPC.
func (c *Client) IsConnected(ctx context.Context) bool {
	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	if api == nil || !c.connected.Load() {
		return false
	}
	if _, err := api.UpdatesGetState(ctx); err != nil {
		log.Printf("⚠️ telegram: health probe failed: %v", err)
		return false
	}
	return true
}

func (c *Client) Send(ctx context.Context, channel int64, text string) error {
	peer, api, err := c.peer(channel)
	if err != nil {
		return err
	}
	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	})
	if err != nil {
		return fmt.Errorf("send to %d: %w", channel, err)
	}
	return nil
}

// Close ends the session and waits for the client goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.api = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	c.connected.Store(false)
	return nil
}

func convert(m tg.MessageClass, source string) (transport.InboundMessage, bool) {
	msg, ok := m.(*tg.Message)
	if !ok || msg.Message == "" {
		return transport.InboundMessage{}, false
	}
	out := transport.InboundMessage{
		MessageID:  int64(msg.ID),
		Text:       msg.Message,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
		Source:     source,
	}
	switch p := msg.PeerID.(type) {
	case *tg.PeerChannel:
		out.ChannelID = p.ChannelID
	case *tg.PeerChat:
		out.ChannelID = p.ChatID
	}
	if from, ok := msg.GetFromID(); ok {
		out.Sender = peerString(from)
	}
	return out, true
}

func peerString(p tg.PeerClass) string {
	switch v := p.(type) {
	case *tg.PeerUser:
		return fmt.Sprintf("user:%d", v.UserID)
	case *tg.PeerChannel:
		return fmt.Sprintf("channel:%d", v.ChannelID)
	case *tg.PeerChat:
		return fmt.Sprintf("chat:%d", v.ChatID)
	}
	return ""
}

func randomID() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
