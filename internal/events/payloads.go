package events

import "time"

// PriceTick is a refreshed last price.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  string    `json:"price"`
	At     time.Time `json:"at"`
}

// MessageClaimed is published once a message wins the ledger claim.
type MessageClaimed struct {
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// SignalSkipped explains why a recognized signal was not executed.
type SignalSkipped struct {
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Intent    string    `json:"intent"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// SupervisorState tracks session transitions.
type SupervisorState struct {
	State    string    `json:"state"`
	Session  int       `json:"session"`
	Reason   string    `json:"reason,omitempty"`
	Restarts int       `json:"restarts"`
	At       time.Time `json:"at"`
}

// ScanCompleted summarizes one reconciliation cycle.
type ScanCompleted struct {
	Channels int           `json:"channels"`
	Scanned  int           `json:"scanned"`
	Replayed int           `json:"replayed"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Took     time.Duration `json:"took"`
	At       time.Time     `json:"at"`
}

// LedgerPersistFailed is published when a mark could not be written.
type LedgerPersistFailed struct {
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// OrderOutcome is one account's execution result.
type OrderOutcome struct {
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	Direction string    `json:"direction"`
	Symbol    string    `json:"symbol"`
	Success   bool      `json:"success"`
	OrderID   string    `json:"order_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	MessageID int64     `json:"message_id"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// SignalDetected is an actionable intent about to be executed.
type SignalDetected struct {
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Intent    string    `json:"intent"`
	Rule      string    `json:"rule"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}
