// Package usdm adapts Binance USDT-M futures (hedge mode) to the common
// Gateway interface.
package usdm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	bcommon "github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

const testnetBaseURL = "https://testnet.binancefuture.com"

// USDⓈ-M request weight budget per minute.
const (
	weightLimit  = 2400
	weightHeader = "X-Mbx-Used-Weight-1m"
)

// Error codes Binance returns when the requested setting is already active.
const (
	codeNoNeedChangeMargin   = -4046
	codeNoNeedChangePosition = -4059
)

// Config holds Binance futures credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string
}

// Client wraps the go-binance futures client.
type Client struct {
	api         *futures.Client
	rateLimiter *common.RateLimiter
}

func NewClient(cfg Config) *Client {
	api := binance.NewFuturesClient(cfg.APIKey, cfg.APISecret)
	switch {
	case cfg.BaseURL != "":
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Testnet:
		api.BaseURL = testnetBaseURL
	}
	rl := common.NewRateLimiter(20, 5, weightLimit, time.Minute)
	base := http.DefaultTransport
	if api.HTTPClient != nil && api.HTTPClient.Transport != nil {
		base = api.HTTPClient.Transport
	}
	api.HTTPClient = &http.Client{
		Timeout:   10 * time.Second,
		Transport: &weightTransport{base: base, limiter: rl},
	}
	return &Client{
		api:         api,
		rateLimiter: rl,
	}
}

// weightTransport feeds the used-weight header of every response into the
// rate limiter.
type weightTransport struct {
	base    http.RoundTripper
	limiter *common.RateLimiter
}

func (t *weightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.base.RoundTrip(req)
	if err == nil {
		t.limiter.UpdateFromHeader(res.Header.Get(weightHeader))
	}
	return res, err
}

// WeightUsage reports the request weight Binance last said was used.
func (c *Client) WeightUsage() (used, limit int, percentage float64) {
	return c.rateLimiter.GetUsage()
}

// Symbol maps a base asset to the USDT-M contract: ETH -> ETHUSDT.
func Symbol(base string) string {
	return strings.ToUpper(base) + "USDT"
}

func positionSide(p common.PositionSide) futures.PositionSideType {
	if p == common.PosShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func side(s common.Side) futures.SideType {
	if s == common.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// PlaceOrder sends the market order, then the attached take-profit and
// stop-loss as closePosition trigger orders on contract (last) price. A
// failed protective order is reported in Msg; the entry is not undone.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return common.OrderResult{}, err
	}
	sym := Symbol(req.Symbol)
	svc := c.api.NewCreateOrderService().
		Symbol(sym).
		Side(side(req.Side)).
		PositionSide(positionSide(req.PositionSide)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Size.String())
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return rejected(req.ClientID, err), fmt.Errorf("place order %s: %w", sym, wrapAPIError(err))
	}
	result := common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		ClientID:        res.ClientOrderID,
		Status:          common.StatusNew,
		Code:            "0",
	}

	if a := req.Attach; a != nil {
		var failures []string
		closeSide := side(req.Side.Opposite())
		for i, leg := range []struct {
			kind  futures.OrderType
			price decimal.Decimal
		}{
			{futures.OrderTypeTakeProfitMarket, a.TakeProfit},
			{futures.OrderTypeStopMarket, a.StopLoss},
		} {
			protect := c.api.NewCreateOrderService().
				Symbol(sym).
				Side(closeSide).
				PositionSide(positionSide(req.PositionSide)).
				Type(leg.kind).
				StopPrice(leg.price.String()).
				WorkingType(futures.WorkingTypeContractPrice).
				ClosePosition(true)
			if a.ClientID != "" {
				protect = protect.NewClientOrderID(fmt.Sprintf("%s%d", a.ClientID, i))
			}
			if _, err := protect.Do(ctx); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", leg.kind, err))
			}
		}
		if len(failures) > 0 {
			result.Msg = strings.Join(failures, "; ")
		}
	}
	return result, nil
}

func rejected(clientID string, err error) common.OrderResult {
	r := common.OrderResult{ClientID: clientID, Status: common.StatusRejected}
	var apiErr *bcommon.APIError
	if errors.As(err, &apiErr) {
		r.Code = strconv.FormatInt(apiErr.Code, 10)
		r.Msg = apiErr.Message
	}
	return r
}

func wrapAPIError(err error) error {
	var apiErr *bcommon.APIError
	if errors.As(err, &apiErr) {
		return &common.APIError{Venue: "binance", Code: strconv.FormatInt(apiErr.Code, 10), Msg: apiErr.Message}
	}
	return err
}

func isCode(err error, code int64) bool {
	var apiErr *bcommon.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// GetPositions lists non-zero legs for the symbol.
func (c *Client) GetPositions(ctx context.Context, base string) ([]common.Position, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewGetPositionRiskService()
	if base != "" {
		svc = svc.Symbol(Symbol(base))
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", wrapAPIError(err))
	}

	var out []common.Position
	for _, r := range rows {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		ps := common.PositionSide(strings.ToLower(r.PositionSide))
		if ps != common.PosLong && ps != common.PosShort {
			ps = common.PosLong
			if amt.IsNegative() {
				ps = common.PosShort
			}
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		out = append(out, common.Position{
			Symbol:       strings.TrimSuffix(r.Symbol, "USDT"),
			PositionSide: ps,
			Size:         amt.Abs(),
			EntryPrice:   entry,
		})
	}
	return out, nil
}

// SetLeverage enables hedge mode, sets the margin type and the leverage.
// "Already set" responses are not errors.
func (c *Client) SetLeverage(ctx context.Context, base string, leverage int, mode common.MarginMode) error {
	sym := Symbol(base)
	if err := c.api.NewChangePositionModeService().DualSide(true).Do(ctx); err != nil && !isCode(err, codeNoNeedChangePosition) {
		return fmt.Errorf("enable hedge mode: %w", wrapAPIError(err))
	}

	marginType := futures.MarginTypeCrossed
	if mode == common.MarginIsolated {
		marginType = futures.MarginTypeIsolated
	}
	if err := c.api.NewChangeMarginTypeService().Symbol(sym).MarginType(marginType).Do(ctx); err != nil && !isCode(err, codeNoNeedChangeMargin) {
		return fmt.Errorf("set margin type %s: %w", sym, wrapAPIError(err))
	}

	if _, err := c.api.NewChangeLeverageService().Symbol(sym).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("set leverage %s: %w", sym, wrapAPIError(err))
	}
	return nil
}

// LastPrice returns the latest contract price.
func (c *Client) LastPrice(ctx context.Context, base string) (decimal.Decimal, error) {
	prices, err := c.api.NewListPricesService().Symbol(Symbol(base)).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", Symbol(base), wrapAPIError(err))
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("price %s: no data", Symbol(base))
	}
	return decimal.NewFromString(prices[0].Price)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.api.NewPingService().Do(ctx)
}
