package bus

import "time"

// Event kinds published by the engine.
const (
	// KindTimelineChanged signals that a chat's timeline changed.
	// Consumers must treat it as a trigger to re-pull state from the
	// store; the payload carries only the chat id and revision token.
	KindTimelineChanged = "timeline.changed"
	// KindSendFailed signals a transport-level delivery failure. The
	// local timeline still records the message as sent.
	KindSendFailed = "outbox.send_failed"
	// KindSendAck signals that all resolved paths accepted a send.
	KindSendAck = "outbox.send_ack"
	// KindStatusChanged signals a daemon runtime state transition.
	KindStatusChanged = "daemon.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// TimelineChanged is the payload for KindTimelineChanged events.
type TimelineChanged struct {
	ChatID   string
	Revision uint64
}
