package bus

import "time"

// Event kinds published by the delivery core.
const (
	KindPresenceChanged  = "presence.changed"
	KindCallStateChanged = "call.state_changed"
	KindMessageRouted    = "message.routed"
	KindReceiptsSent     = "receipt.sent"
	KindSessionEvicted   = "session.evicted"
	KindDaemonStatus     = "daemon.status_changed"
)

// Event is an internal observation about the delivery core. It is never sent
// to chat clients; operators consume it through the admin event stream.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}
