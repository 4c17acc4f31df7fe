package db

import "time"

// SignalRecord is one classified channel message.
type SignalRecord struct {
	ID        string    `json:"id"`
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Direction string    `json:"direction"`
	Symbol    string    `json:"symbol"`
	Rule      string    `json:"rule"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// OutcomeRecord is the audit row for one account's execution of one signal.
// Decimal values are stored as their string form to keep exchange precision.
type OutcomeRecord struct {
	ID            string    `json:"id"`
	SignalID      string    `json:"signal_id"`
	Account       string    `json:"account"`
	Kind          string    `json:"kind"`
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"`
	Success       bool      `json:"success"`
	OrderID       string    `json:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	MarketPrice   string    `json:"market_price,omitempty"`
	Size          string    `json:"size,omitempty"`
	Margin        string    `json:"margin,omitempty"`
	TakeProfit    string    `json:"take_profit,omitempty"`
	StopLoss      string    `json:"stop_loss,omitempty"`
	Closes        int       `json:"closes"`
	Error         string    `json:"error,omitempty"`
	ExchangeCode  string    `json:"exchange_code,omitempty"`
	ExchangeMsg   string    `json:"exchange_msg,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

const InsertSignalSQL = `
	INSERT OR IGNORE INTO signals (id, channel_id, message_id, source, kind, direction, symbol, rule, text, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const InsertOutcomeSQL = `
	INSERT OR IGNORE INTO execution_outcomes (id, signal_id, account, kind, symbol, direction, success, order_id,
		client_order_id, market_price, size, margin, take_profit, stop_loss, closes, error, exchange_code, exchange_msg,
		latency_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertArgs returns the positional args for InsertSignalSQL.
func (s SignalRecord) InsertArgs() []any {
	return []any{s.ID, s.ChannelID, s.MessageID, s.Source, s.Kind, s.Direction, s.Symbol, s.Rule, s.Text, s.CreatedAt}
}

// InsertArgs returns the positional args for InsertOutcomeSQL.
func (o OutcomeRecord) InsertArgs() []any {
	return []any{o.ID, o.SignalID, o.Account, o.Kind, o.Symbol, o.Direction, o.Success, o.OrderID,
		o.ClientOrderID, o.MarketPrice, o.Size, o.Margin, o.TakeProfit, o.StopLoss, o.Closes, o.Error,
		o.ExchangeCode, o.ExchangeMsg, o.LatencyMs, o.CreatedAt}
}
