package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/signal"
	exchange "signal-trader/pkg/exchanges/common"
)

// Planning failures. ErrNoSize is a skip, not a failure: accounts opt into
// symbols individually.
var (
	ErrNoPrice  = errors.New("no market price")
	ErrNoSize   = errors.New("no configured size for symbol")
	ErrNoSymbol = errors.New("intent has no symbol")

	ErrProtectionSide = errors.New("take-profit/stop-loss not on the protective side of entry")
)

// Client order id prefixes.
const (
	PrefixOpen   = "ORD"
	PrefixClose  = "CLOSE"
	PrefixAttach = "TPSL"
)

// OpenPlan is one market entry with its attached TP/SL bundle.
type OpenPlan struct {
	Symbol         string
	Side           exchange.Side
	PositionSide   exchange.PositionSide
	Size           decimal.Decimal
	EntryPrice     decimal.Decimal
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	Margin         decimal.Decimal
	Leverage       int
	MarginMode     exchange.MarginMode
	ClientOrderID  string
	AttachClientID string
}

// Request converts the plan into a gateway order.
func (p OpenPlan) Request() exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:       p.Symbol,
		Side:         p.Side,
		PositionSide: p.PositionSide,
		Type:         exchange.OrderTypeMarket,
		Size:         p.Size,
		ClientID:     p.ClientOrderID,
		MarginMode:   p.MarginMode,
		Attach: &exchange.Attached{
			ClientID:   p.AttachClientID,
			TakeProfit: p.TakeProfit,
			StopLoss:   p.StopLoss,
		},
	}
}

// ClosePlan flattens exactly one open leg.
type ClosePlan struct {
	Symbol        string
	Side          exchange.Side
	PositionSide  exchange.PositionSide
	Size          decimal.Decimal
	MarginMode    exchange.MarginMode
	ClientOrderID string
}

func (p ClosePlan) Request() exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:       p.Symbol,
		Side:         p.Side,
		PositionSide: p.PositionSide,
		Type:         exchange.OrderTypeMarket,
		Size:         p.Size,
		ClientID:     p.ClientOrderID,
		MarginMode:   p.MarginMode,
	}
}

// CloseFill is the result of one close order.
type CloseFill struct {
	PositionSide exchange.PositionSide `json:"pos_side"`
	Size         decimal.Decimal       `json:"size"`
	OrderID      string                `json:"order_id"`
	ClientID     string                `json:"client_order_id"`
	Error        string                `json:"error,omitempty"`
}

// Outcome is one account's result for one intent.
type Outcome struct {
	Account       string          `json:"account"`
	Intent        signal.Intent   `json:"-"`
	Success       bool            `json:"success"`
	OrderID       string          `json:"order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	Size          decimal.Decimal `json:"size"`
	Margin        decimal.Decimal `json:"margin"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	Closes        []CloseFill     `json:"closes,omitempty"`
	Code          string          `json:"code,omitempty"`
	Msg           string          `json:"msg,omitempty"`
	Latency       time.Duration   `json:"latency"`
	At            time.Time       `json:"at"`
}
