// Package signal classifies free-text channel messages into trade intents.
package signal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the intent variant.
type Kind string

const (
	KindNone  Kind = "none"
	KindOpen  Kind = "open"
	KindClose Kind = "close"
)

// Direction is the position side an intent targets. DirectionBoth is only
// valid for close intents.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Both  Direction = "both"
)

// Label returns the operator-facing action name used in notifications.
func (d Direction) Label() string {
	switch d {
	case Long:
		return "做多"
	case Short:
		return "做空"
	case Both:
		return "全部"
	}
	return string(d)
}

// Intent is derived purely from message text and carries no account data.
type Intent struct {
	Kind      Kind
	Direction Direction
	Symbol    string // base asset, e.g. "ETH"; may be empty on a close
	Rule      string // name of the rule that matched

	// SignalPrice is the price quoted in the message, when present.
	SignalPrice decimal.Decimal
	HasPrice    bool
}

// None is the intent for ordinary channel chatter.
var None = Intent{Kind: KindNone}

// Actionable reports whether the intent can be planned.
func (i Intent) Actionable() bool {
	return i.Kind != KindNone && i.Symbol != ""
}

func (i Intent) String() string {
	switch i.Kind {
	case KindOpen:
		return fmt.Sprintf("open %s %s", i.Direction, i.Symbol)
	case KindClose:
		sym := i.Symbol
		if sym == "" {
			sym = "<unknown>"
		}
		return fmt.Sprintf("close %s %s", i.Direction, sym)
	}
	return "none"
}
