package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"signal-trader/internal/engine"
	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/pkg/db"
)

type fakeEngine struct {
	mu       sync.Mutex
	marks    map[int64][]int64
	reloads  int
	unmarked []int64
	markErr  error
}

func (f *fakeEngine) Status(context.Context) engine.Status {
	return engine.Status{
		Instance:   "test-host",
		Supervisor: events.SupervisorState{State: "listening", Session: 1},
		Channels:   []int64{100},
	}
}

func (f *fakeEngine) LedgerSnapshot() map[int64][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks
}

func (f *fakeEngine) ReloadLedger(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeEngine) MarkProcessed(_ context.Context, channel, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[channel] = append(f.marks[channel], id)
	return f.markErr
}

func (f *fakeEngine) UnmarkProcessed(_ context.Context, channel, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmarked = append(f.unmarked, id)
	return nil
}

func (f *fakeEngine) counts() (reloads int, unmarked []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads, append([]int64(nil), f.unmarked...)
}

func (f *fakeEngine) failMarks(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markErr = err
}

const testSecret = "test-secret-0123456789abcdefghijkl"

func newTestAPIServer(t *testing.T, passwordHash string) (*httptest.Server, *fakeEngine, *db.Database) {
	t.Helper()
	return newTestAPIServerWithSecret(t, passwordHash, testSecret)
}

func newTestAPIServerWithSecret(t *testing.T, passwordHash, secret string) (*httptest.Server, *fakeEngine, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	eng := &fakeEngine{marks: map[int64][]int64{100: {1, 2}}}
	server := NewServer(eng, database, events.NewBus(), monitor.NewSystemMetrics(), secret, passwordHash)
	ts := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		ts.Close()
		database.Close()
	})
	return ts, eng, database
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func login(t *testing.T, base, password string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/auth/login", "", map[string]string{"password": password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login 200, got %d (%v)", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected token in login response")
	}
	return token
}

func TestHealthAndStatus(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["supervisor"] != "listening" {
		t.Fatalf("unexpected health: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/status", "", nil)
	if resp.StatusCode != http.StatusOK || body["instance"] != "test-host" {
		t.Fatalf("unexpected status: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/ledger", "", nil)
	if resp.StatusCode != http.StatusOK || body["total"] != float64(2) {
		t.Fatalf("unexpected ledger: %d %v", resp.StatusCode, body)
	}
}

func TestMetricsExposition(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")
	doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `signal_trader_api_requests_total{class="2xx"}`) {
		t.Fatalf("expected api request counter in exposition, got:\n%s", raw)
	}
}

func TestLedgerCommandsRequireAuth(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ts, eng, _ := newTestAPIServer(t, hash)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/ledger/reload", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "MISSING_TOKEN" {
		t.Fatalf("expected 401 MISSING_TOKEN, got %d %v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/ledger/reload", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
	if reloads, _ := eng.counts(); reloads != 0 {
		t.Fatal("reload must not run without auth")
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"password": "x"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %v", resp.StatusCode, body)
	}
}

func TestLedgerCommandsDisabledWithoutAdmin(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	tests := []struct {
		name   string
		hash   string
		secret string
	}{
		{"no password hash", "", testSecret},
		{"well-known secret", hash, "dev-secret"},
		{"empty secret", hash, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, eng, _ := newTestAPIServerWithSecret(t, tt.hash, tt.secret)

			signWith := tt.secret
			if signWith == "" {
				signWith = "guessed"
			}
			forged, err := generateToken(adminUser, signWith, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatalf("generateToken: %v", err)
			}
			resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/ledger/100/1", forged, nil)
			if resp.StatusCode != http.StatusNotFound {
				t.Fatalf("expected 404 for disabled ledger commands, got %d", resp.StatusCode)
			}
			if _, unmarked := eng.counts(); len(unmarked) != 0 {
				t.Fatalf("unmark must not run, got %v", unmarked)
			}

			resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"password": "s3cret"})
			if resp.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("expected login 503, got %d", resp.StatusCode)
			}
		})
	}
}

func TestLedgerCommands(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ts, eng, _ := newTestAPIServer(t, hash)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	token := login(t, ts.URL, "s3cret")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/ledger/reload", token, nil)
	if reloads, _ := eng.counts(); resp.StatusCode != http.StatusOK || reloads != 1 {
		t.Fatalf("reload: %d %v (reloads=%d)", resp.StatusCode, body, reloads)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/ledger/mark", token, map[string]int64{"channel_id": 100, "message_id": 9})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark: %d %v", resp.StatusCode, body)
	}
	if got := eng.LedgerSnapshot()[100]; len(got) != 3 || got[2] != 9 {
		t.Fatalf("expected message 9 marked, got %v", got)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/ledger/mark", token, map[string]int64{"channel_id": 100})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing message_id, got %d", resp.StatusCode)
	}

	eng.failMarks(errors.New("disk full"))
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/ledger/mark", token, map[string]int64{"channel_id": 100, "message_id": 10})
	if resp.StatusCode != http.StatusAccepted || body["code"] != "PERSIST_FAILED" {
		t.Fatalf("expected 202 PERSIST_FAILED, got %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/ledger/100/2", token, nil)
	if _, unmarked := eng.counts(); resp.StatusCode != http.StatusOK || len(unmarked) != 1 || unmarked[0] != 2 {
		t.Fatalf("unmark: %d %v", resp.StatusCode, unmarked)
	}
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/ledger/100/abc", token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestAuditQueries(t *testing.T) {
	ts, _, database := newTestAPIServer(t, "")
	ctx := context.Background()
	now := time.Now()

	if err := database.InsertSignal(ctx, db.SignalRecord{ID: "sig-1", ChannelID: 100, MessageID: 5, Source: "live", Kind: "open", Direction: "long", Symbol: "ETH", Text: "做多 ETH", CreatedAt: now}); err != nil {
		t.Fatalf("InsertSignal: %v", err)
	}
	for i, acct := range []string{"OKX1", "OKX2"} {
		o := db.OutcomeRecord{ID: "out-" + acct, SignalID: "sig-1", Account: acct, Kind: "open", Symbol: "ETH", Direction: "long", Success: i == 0, CreatedAt: now}
		if err := database.InsertOutcome(ctx, o); err != nil {
			t.Fatalf("InsertOutcome: %v", err)
		}
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/signals", "", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("signals: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/outcomes?account=OKX2", "", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("outcomes: %d %v", resp.StatusCode, body)
	}
	rows := body["outcomes"].([]any)
	if row := rows[0].(map[string]any); row["account"] != "OKX2" || row["success"] != false {
		t.Errorf("unexpected outcome row: %v", row)
	}
}
