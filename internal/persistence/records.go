package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signal-trader/internal/order"
	"signal-trader/internal/signal"
	"signal-trader/pkg/db"
)

// SignalRecord builds the audit row for a classified message.
func SignalRecord(channelID, messageID int64, source, text string, intent signal.Intent) db.SignalRecord {
	return db.SignalRecord{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		MessageID: messageID,
		Source:    source,
		Kind:      string(intent.Kind),
		Direction: string(intent.Direction),
		Symbol:    intent.Symbol,
		Rule:      intent.Rule,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// OutcomeRecord builds the audit row for one account outcome.
func OutcomeRecord(signalID string, o order.Outcome) db.OutcomeRecord {
	return db.OutcomeRecord{
		ID:            uuid.NewString(),
		SignalID:      signalID,
		Account:       o.Account,
		Kind:          string(o.Intent.Kind),
		Symbol:        o.Intent.Symbol,
		Direction:     string(o.Intent.Direction),
		Success:       o.Success,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		MarketPrice:   decimalString(o.MarketPrice),
		Size:          decimalString(o.Size),
		Margin:        decimalString(o.Margin),
		TakeProfit:    decimalString(o.TakeProfit),
		StopLoss:      decimalString(o.StopLoss),
		Closes:        len(o.Closes),
		Error:         o.Error,
		ExchangeCode:  o.Code,
		ExchangeMsg:   o.Msg,
		LatencyMs:     o.Latency.Milliseconds(),
		CreatedAt:     o.At,
	}
}

func decimalString(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
