package common

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway abstracts a futures trading account.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error
}

// Pinger is implemented by gateways that can cheaply probe connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PriceSource returns the last traded price for a base asset.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ClockSyncer is implemented by gateways that sign requests with a
// timestamp the venue checks against its own clock.
type ClockSyncer interface {
	StartTimeSync(ctx context.Context)
}
