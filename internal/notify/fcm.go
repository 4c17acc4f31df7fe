package notify

import (
	"context"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

// FCM publishes notifications to a Firebase Cloud Messaging topic.
type FCM struct {
	client *messaging.Client
	topic  string
	tags   map[string]string
}

// NewFCM loads the service account file and creates a messaging client.
func NewFCM(ctx context.Context, credentialsFile, topic string, tags map[string]string) (*FCM, error) {
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("fcm credentials: %w", err)
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	if topic == "" {
		topic = "signals"
	}
	log.Printf("✓ FCM push enabled (topic=%s)", topic)
	return &FCM{client: client, topic: topic, tags: tags}, nil
}

func (f *FCM) Notify(ctx context.Context, title, body string) bool {
	if f == nil || f.client == nil {
		return false
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data:  f.tags,
		Topic: f.topic,
	}
	id, err := f.client.Send(ctx, msg)
	if err != nil {
		log.Printf("⚠️ FCM send error: %v", err)
		return false
	}
	log.Printf("📲 push sent: %s (id %s)", title, id)
	return true
}
