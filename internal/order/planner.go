package order

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/signal"
	"signal-trader/pkg/config"
	exchange "signal-trader/pkg/exchanges/common"
)

const (
	priceScale  = 2
	maxScale    = 10
	marginScale = 4
	clientIDMax = 32
	idAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var hundred = decimal.NewFromInt(100)

// Planner turns an intent into order plans. Apart from client order ids it
// is a pure function of its inputs.
type Planner struct {
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal

	// Now stamps client order ids; defaults to time.Now.
	Now func() time.Time
}

// NewPlanner takes percentages as configured, e.g. 1 and 2.7.
func NewPlanner(takeProfitPct, stopLossPct float64) *Planner {
	return &Planner{
		TakeProfitPct: decimal.NewFromFloat(takeProfitPct),
		StopLossPct:   decimal.NewFromFloat(stopLossPct),
	}
}

// PlanOpen computes the entry for one account. A missing price is a planning
// failure; a missing size is ErrNoSize and the account is skipped.
func (p *Planner) PlanOpen(intent signal.Intent, price decimal.Decimal, acct config.Account) (OpenPlan, error) {
	if intent.Symbol == "" {
		return OpenPlan{}, ErrNoSymbol
	}
	size, ok := acct.Size(intent.Symbol)
	if !ok {
		return OpenPlan{}, ErrNoSize
	}
	if !price.IsPositive() {
		return OpenPlan{}, ErrNoPrice
	}

	tp := p.TakeProfitPct.Div(hundred)
	sl := p.StopLossPct.Div(hundred)
	one := decimal.NewFromInt(1)

	posSide := exchange.PosLong
	takeProfit := price.Mul(one.Add(tp))
	stopLoss := price.Mul(one.Sub(sl))
	if intent.Direction == signal.Short {
		posSide = exchange.PosShort
		takeProfit = price.Mul(one.Sub(tp))
		stopLoss = price.Mul(one.Add(sl))
	}

	scale := protectionScale(price, posSide, takeProfit, stopLoss)
	takeProfit, stopLoss = takeProfit.Round(scale), stopLoss.Round(scale)
	if !protective(price, posSide, takeProfit, stopLoss) {
		return OpenPlan{}, ErrProtectionSide
	}

	leverage := acct.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	return OpenPlan{
		Symbol:         intent.Symbol,
		Side:           posSide.OpenSide(),
		PositionSide:   posSide,
		Size:           size,
		EntryPrice:     price,
		TakeProfit:     takeProfit,
		StopLoss:       stopLoss,
		Margin:         price.Mul(size).Div(decimal.NewFromInt(int64(leverage))).Round(marginScale),
		Leverage:       leverage,
		MarginMode:     marginMode(acct),
		ClientOrderID:  p.ClientOrderID(PrefixOpen),
		AttachClientID: p.ClientOrderID(PrefixAttach),
	}, nil
}

// PlanClose emits one opposite-side market order per matching non-empty
// position. No matching position yields an empty plan, which is a success.
func (p *Planner) PlanClose(intent signal.Intent, positions []exchange.Position, acct config.Account) ([]ClosePlan, error) {
	if intent.Symbol == "" {
		return nil, ErrNoSymbol
	}
	var plans []ClosePlan
	for _, pos := range positions {
		if !pos.Size.IsPositive() || !matches(intent.Direction, pos.PositionSide) {
			continue
		}
		plans = append(plans, ClosePlan{
			Symbol:        intent.Symbol,
			Side:          pos.PositionSide.OpenSide().Opposite(),
			PositionSide:  pos.PositionSide,
			Size:          pos.Size,
			MarginMode:    marginMode(acct),
			ClientOrderID: p.ClientOrderID(PrefixClose),
		})
	}
	return plans, nil
}

// protectionScale keeps at least the entry price's own precision and adds
// digits until rounding no longer pulls TP or SL onto the entry.
func protectionScale(price decimal.Decimal, side exchange.PositionSide, tp, sl decimal.Decimal) int32 {
	scale := int32(priceScale)
	if exp := -price.Exponent(); exp > scale {
		scale = exp
	}
	for scale < maxScale && !protective(price, side, tp.Round(scale), sl.Round(scale)) {
		scale++
	}
	return scale
}

// protective reports whether TP sits on the profit side of entry and SL on
// the loss side.
func protective(price decimal.Decimal, side exchange.PositionSide, tp, sl decimal.Decimal) bool {
	if side == exchange.PosShort {
		return tp.LessThan(price) && sl.GreaterThan(price) && tp.IsPositive()
	}
	return tp.GreaterThan(price) && sl.LessThan(price) && sl.IsPositive()
}

func matches(d signal.Direction, side exchange.PositionSide) bool {
	switch d {
	case signal.Both:
		return true
	case signal.Long:
		return side == exchange.PosLong
	case signal.Short:
		return side == exchange.PosShort
	}
	return false
}

func marginMode(acct config.Account) exchange.MarginMode {
	if acct.MarginMode == string(exchange.MarginIsolated) {
		return exchange.MarginIsolated
	}
	return exchange.MarginCross
}

// ClientOrderID returns prefix + yyyymmddHHMMSS + 6 random alphanumerics,
// cut to the exchange limit of 32 characters.
func (p *Planner) ClientOrderID(prefix string) string {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	id := prefix + now().Format("20060102150405") + randomSuffix(6)
	if len(id) > clientIDMax {
		id = id[:clientIDMax]
	}
	return id
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = idAlphabet[i%len(idAlphabet)]
			continue
		}
		b[i] = idAlphabet[v.Int64()]
	}
	return string(b)
}
