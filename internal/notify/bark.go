package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBarkURL = "https://api.day.app"

// Bark pushes to the Bark iOS app.
type Bark struct {
	Key     string
	Group   string
	BaseURL string
	HTTP    *http.Client
}

func NewBark(key, group string) *Bark {
	return &Bark{
		Key:     key,
		Group:   group,
		BaseURL: defaultBarkURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type barkPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Group string `json:"group,omitempty"`
}

// Notify posts JSON first and falls back to the path-style GET API.
func (b *Bark) Notify(ctx context.Context, title, body string) bool {
	if b.Key == "" {
		return false
	}
	err := b.post(ctx, title, body)
	if err == nil {
		return true
	}
	log.Printf("⚠️ bark: POST failed, trying GET: %v", err)

	if err := b.get(ctx, title, body); err != nil {
		log.Printf("❌ bark: GET failed: %v", err)
		return false
	}
	return true
}

func (b *Bark) endpoint() string {
	base := b.BaseURL
	if base == "" {
		base = defaultBarkURL
	}
	return strings.TrimRight(base, "/") + "/" + b.Key
}

func (b *Bark) post(ctx context.Context, title, body string) error {
	payload, err := json.Marshal(barkPayload{Title: title, Body: body, Group: b.Group})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return b.do(req)
}

func (b *Bark) get(ctx context.Context, title, body string) error {
	u := b.endpoint() + "/" + url.PathEscape(title) + "/" + url.PathEscape(body)
	if b.Group != "" {
		u += "?group=" + url.QueryEscape(b.Group)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return b.do(req)
}

func (b *Bark) do(req *http.Request) error {
	client := b.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
