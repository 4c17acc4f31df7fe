// Package transport defines the channel message source the pipeline reads
// from and reports to.
package transport

import (
	"context"
	"errors"
	"time"
)

// Message sources.
const (
	SourceLive = "live"
	SourceScan = "scan"
)

var (
	ErrNotConnected  = errors.New("transport not connected")
	ErrNotAuthorized = errors.New("transport session not authorized")
)

// InboundMessage is one channel post.
type InboundMessage struct {
	ChannelID  int64
	MessageID  int64
	Text       string
	ReceivedAt time.Time
	Sender     string
	Source     string
}

// Transport is a connected channel client.
type Transport interface {
	Connect(ctx context.Context) error

	// Subscribe streams new messages from channels. The channel is closed
	// when the connection ends or ctx is cancelled.
	Subscribe(ctx context.Context, channels []int64) (<-chan InboundMessage, error)

	// PageRecent returns up to limit most recent messages, newest first.
	PageRecent(ctx context.Context, channel int64, limit int) ([]InboundMessage, error)

	IsConnected(ctx context.Context) bool
	Send(ctx context.Context, channel int64, text string) error
	Close() error
}
