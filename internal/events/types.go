package events

// Event enumerates high-level topics inside the signal pipeline.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventMessageClaimed  Event = "message.claimed"
	EventSignalDetected  Event = "signal.detected"
	EventSignalSkipped   Event = "signal.skipped"
	EventOrderOutcome    Event = "order.outcome"
	EventSupervisorState Event = "supervisor.state"
	EventScanCompleted   Event = "scan.completed"
	EventLedgerPersist   Event = "ledger.persist_failed"
)

// All lists every topic, used by fan-out consumers such as the websocket hub.
var All = []Event{
	EventPriceTick,
	EventMessageClaimed,
	EventSignalDetected,
	EventSignalSkipped,
	EventOrderOutcome,
	EventSupervisorState,
	EventScanCompleted,
	EventLedgerPersist,
}
