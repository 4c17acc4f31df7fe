package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestBarkPost(t *testing.T) {
	var got barkPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/key123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"code":200,"message":"success"}`))
	}))
	defer srv.Close()

	b := NewBark("key123", "trading")
	b.BaseURL = srv.URL
	if !b.Notify(context.Background(), "Tg信号策略做多-ETH", "账户: OKX1") {
		t.Fatal("expected delivery")
	}
	if got.Title != "Tg信号策略做多-ETH" || got.Group != "trading" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestBarkFallsBackToGet(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		paths = append(paths, r.URL.Path)
		query = r.URL.RawQuery
	}))
	defer srv.Close()

	b := NewBark("k", "g")
	b.BaseURL = srv.URL
	if !b.Notify(context.Background(), "title", "line1\nline2") {
		t.Fatal("expected GET fallback to deliver")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/k/title/line1\nline2" {
		t.Errorf("unexpected GET path: %q", paths)
	}
	if query != "group=g" {
		t.Errorf("expected group query, got %q", query)
	}
}

func TestBarkFailureReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBark("k", "")
	b.BaseURL = srv.URL
	if b.Notify(context.Background(), "t", "b") {
		t.Error("expected failure")
	}
	if NewBark("", "").Notify(context.Background(), "t", "b") {
		t.Error("empty key must not deliver")
	}
}

func TestTelegramBot(t *testing.T) {
	var sent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"signal_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			sent = r.FormValue("text")
			w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":99,"type":"private"}}}`))
		default:
			body, _ := io.ReadAll(r.Body)
			t.Errorf("unexpected call %s %s", r.URL.Path, body)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegramWithEndpoint("TOKEN", srv.URL+"/bot%s/%s", 99)
	if err != nil {
		t.Fatalf("NewTelegramWithEndpoint failed: %v", err)
	}
	if !tg.Notify(context.Background(), "title", "body") {
		t.Fatal("expected delivery")
	}
	if sent != "title\n\nbody" {
		t.Errorf("unexpected text %q", sent)
	}
}

func TestNewFCMMissingCredentials(t *testing.T) {
	_, err := NewFCM(context.Background(), filepath.Join(t.TempDir(), "missing.json"), "", nil)
	if err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}

func TestMulti(t *testing.T) {
	var calls int
	fail := Func(func(ctx context.Context, title, body string) bool { calls++; return false })
	ok := Func(func(ctx context.Context, title, body string) bool { calls++; return true })

	if !(Multi{fail, nil, ok}).Notify(context.Background(), "t", "b") {
		t.Error("expected true when one notifier delivers")
	}
	if calls != 2 {
		t.Errorf("expected both notifiers called, got %d", calls)
	}
	if (Multi{fail}).Notify(context.Background(), "t", "b") {
		t.Error("expected false when nothing delivers")
	}
}
