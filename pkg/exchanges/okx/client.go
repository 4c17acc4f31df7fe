// Package okx is a minimal signed client for the OKX v5 REST API covering
// USDT-margined perpetual swaps.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"signal-trader/pkg/exchanges/common"
)

const defaultBaseURL = "https://www.okx.com"

// Config holds one sub-account's API credentials.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Flag       string // "0" live, "1" demo trading
	BaseURL    string
}

// Client handles OKX swap trading for one account.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

// NewClient creates a client. Demo accounts (flag "1") send the
// x-simulated-trading header on every request.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.Flag == "" {
		cfg.Flag = "1"
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(c.ServerTime)
	// trade/order allows 60 requests per 2s per instrument.
	c.rateLimiter = common.NewRateLimiter(20, 5, 0, 0)
	return c
}

// NewPublicClient reads market data from the live book, whatever the
// accounts trade on. It carries no credentials.
func NewPublicClient(baseURL string) *Client {
	return NewClient(Config{Flag: "0", BaseURL: baseURL})
}

// InstID maps a base asset to the USDT perpetual instrument: ETH -> ETH-USDT-SWAP.
func InstID(symbol string) string {
	return strings.ToUpper(symbol) + "-USDT-SWAP"
}

// envelope is the common OKX response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func sign(secret, prehash string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) timestamp() string {
	now := time.Now()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		now = c.timeSync.Now()
	}
	return now.UTC().Format("2006-01-02T15:04:05.000Z")
}

// doSigned sends an authenticated request. path includes the query string.
func (c *Client) doSigned(ctx context.Context, method, path string, payload any) (*envelope, error) {
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" || c.cfg.Passphrase == "" {
		return nil, fmt.Errorf("okx: API key/secret/passphrase required")
	}
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	ts := c.timestamp()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sign(c.cfg.SecretKey, ts+method+path+string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	return c.do(ctx, req)
}

func (c *Client) doPublic(ctx context.Context, path string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) (*envelope, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.cfg.Flag == "1" {
		req.Header.Set("x-simulated-trading", "1")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if res.StatusCode >= 300 {
			return nil, fmt.Errorf("okx status %d: %s", res.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Code != "0" {
		return &env, &common.APIError{Venue: "okx", Code: env.Code, Msg: env.Msg}
	}
	return &env, nil
}
