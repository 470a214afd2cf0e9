package event

// Kind tags an outbound envelope.
type Kind string

const (
	KindNewMessage      Kind = "new_message"
	KindPresenceChanged Kind = "presence_changed"
	KindTypingUpdate    Kind = "typing_update"
	KindReadReceipt     Kind = "read_receipt"
	KindIncomingCall    Kind = "incoming_call"
	KindCallStatus      Kind = "call_status"
	KindCallAccepted    Kind = "call_accepted"
	KindCallConnected   Kind = "call_connected"
	KindCallDeclined    Kind = "call_declined"
	KindCallCanceled    Kind = "call_canceled"
	KindCallEnd         Kind = "call_end"
	KindCallSignal      Kind = "call_signal"
	KindError           Kind = "error"
)

// Presence values carried by PresenceChanged.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Call status values carried by CallStatus.
const (
	CallRinging = "ringing"
	CallEnded   = "ended"
	CallTimeout = "timeout"
)
