// Package notify delivers operator notifications. Delivery failures are
// logged and reported as false; they never stop the pipeline.
package notify

import (
	"context"
	"log"
)

// Notifier sends one titled message.
type Notifier interface {
	Notify(ctx context.Context, title, body string) bool
}

// Multi fans a notification out to every configured notifier.
type Multi []Notifier

// Notify reports true when at least one notifier delivered.
func (m Multi) Notify(ctx context.Context, title, body string) bool {
	ok := false
	for _, n := range m {
		if n == nil {
			continue
		}
		if n.Notify(ctx, title, body) {
			ok = true
		}
	}
	return ok
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(ctx context.Context, title, body string) bool {
	log.Printf("notify: (disabled) %s", title)
	return false
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, title, body string) bool

func (f Func) Notify(ctx context.Context, title, body string) bool { return f(ctx, title, body) }
