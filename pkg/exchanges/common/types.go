package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that flattens a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the hedge-mode position leg.
type PositionSide string

const (
	PosLong  PositionSide = "long"
	PosShort PositionSide = "short"
)

// OpenSide is the order side that opens a leg: buy for long, sell for short.
func (p PositionSide) OpenSide() Side {
	if p == PosShort {
		return SideSell
	}
	return SideBuy
}

// MarginMode is the position margin mode.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusFilled   OrderStatus = "FILLED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Attached is a take-profit / stop-loss bundle triggered on last price and
// executed at market.
type Attached struct {
	ClientID   string
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// OrderRequest is one market order against a USDT-margined perpetual.
type OrderRequest struct {
	Symbol       string // base asset, e.g. "ETH"; venues map it to their instrument id
	Side         Side
	PositionSide PositionSide
	Type         OrderType
	Size         decimal.Decimal
	ClientID     string
	MarginMode   MarginMode
	ReduceOnly   bool
	Attach       *Attached
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	Code            string
	Msg             string
}

// Position is one open leg.
type Position struct {
	Symbol       string
	PositionSide PositionSide
	Size         decimal.Decimal // absolute contracts/quantity
	EntryPrice   decimal.Decimal
}

// APIError is a venue rejection with its code and message.
type APIError struct {
	Venue string
	Code  string
	Msg   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %s: %s", e.Venue, e.Code, e.Msg)
}
