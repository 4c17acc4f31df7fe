package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

// LastPrice returns the last traded price of the symbol's swap instrument.
// It needs no credentials.
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	env, err := c.doPublic(ctx, "/api/v5/market/ticker?instId="+url.QueryEscape(InstID(symbol)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker %s: %w", InstID(symbol), err)
	}
	var rows []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	if len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("ticker %s: no data", InstID(symbol))
	}
	price, err := decimal.NewFromString(rows[0].Last)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker %s: bad price %q", InstID(symbol), rows[0].Last)
	}
	return price, nil
}

// ServerTime returns the exchange clock in epoch milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	env, err := c.doPublic(ctx, "/api/v5/public/time")
	if err != nil {
		return 0, err
	}
	var rows []struct {
		Ts string `json:"ts"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("server time: no data")
	}
	return strconv.ParseInt(rows[0].Ts, 10, 64)
}

// Ping probes the public API.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ServerTime(ctx)
	return err
}

// StartTimeSync keeps request timestamps aligned with the server clock.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}
