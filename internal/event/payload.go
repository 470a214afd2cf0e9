package event

import (
	"encoding/json"
	"time"
)

// Payload is the closed set of outbound event bodies. Only types declared in
// this package satisfy it.
type Payload interface {
	Kind() Kind
	payload()
}

// NewMessage is a persisted chat message fanned out to members.
type NewMessage struct {
	MessageID   string    `json:"message_id"`
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"sender_id"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
}

// PresenceChanged reports an online/offline transition of a peer.
type PresenceChanged struct {
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// TypingUpdate is the ephemeral typing indicator.
type TypingUpdate struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// ReadReceipt tells a sender which of their messages were read.
type ReadReceipt struct {
	MessageIDs []string  `json:"message_ids"`
	ReaderID   string    `json:"reader_id"`
	ReadAt     time.Time `json:"read_at"`
}

// IncomingCall rings the callee.
type IncomingCall struct {
	CallerID string `json:"caller_id"`
}

// CallStatus reports progress of a call negotiation.
type CallStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// CallAccepted tells the caller the callee picked up.
type CallAccepted struct {
	CalleeID string `json:"callee_id"`
}

// CallConnected tells the callee the call is established.
type CallConnected struct {
	CallerID string `json:"caller_id"`
}

// CallDeclined tells the caller the callee refused.
type CallDeclined struct {
	CalleeID string `json:"callee_id"`
}

// CallCanceled tells the callee the caller gave up before an answer.
type CallCanceled struct {
	CallerID string `json:"caller_id"`
}

// CallEnd tells the surviving peer the call is over.
type CallEnd struct {
	PeerID string `json:"peer_id"`
	Reason string `json:"reason"`
}

// CallSignal carries an opaque SDP/ICE frame between call peers.
type CallSignal struct {
	FromID string          `json:"from_id"`
	Data   json.RawMessage `json:"data"`
}

// Error reports a failed command back to the originating connection.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

func (NewMessage) Kind() Kind      { return KindNewMessage }
func (PresenceChanged) Kind() Kind { return KindPresenceChanged }
func (TypingUpdate) Kind() Kind    { return KindTypingUpdate }
func (ReadReceipt) Kind() Kind     { return KindReadReceipt }
func (IncomingCall) Kind() Kind    { return KindIncomingCall }
func (CallStatus) Kind() Kind      { return KindCallStatus }
func (CallAccepted) Kind() Kind    { return KindCallAccepted }
func (CallConnected) Kind() Kind   { return KindCallConnected }
func (CallDeclined) Kind() Kind    { return KindCallDeclined }
func (CallCanceled) Kind() Kind    { return KindCallCanceled }
func (CallEnd) Kind() Kind         { return KindCallEnd }
func (CallSignal) Kind() Kind      { return KindCallSignal }
func (Error) Kind() Kind           { return KindError }

func (NewMessage) payload()      {}
func (PresenceChanged) payload() {}
func (TypingUpdate) payload()    {}
func (ReadReceipt) payload()     {}
func (IncomingCall) payload()    {}
func (CallStatus) payload()      {}
func (CallAccepted) payload()    {}
func (CallConnected) payload()   {}
func (CallDeclined) payload()    {}
func (CallCanceled) payload()    {}
func (CallEnd) payload()         {}
func (CallSignal) payload()      {}
func (Error) payload()           {}
