package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is what a live connection receives.
type Envelope struct {
	ChatID          string
	PeerID          string
	Payload         Payload
	ServerTimestamp time.Time
}

// New wraps a payload with the current server time.
func New(chatID, peerID string, p Payload) Envelope {
	return Envelope{
		ChatID:          chatID,
		PeerID:          peerID,
		Payload:         p,
		ServerTimestamp: time.Now().UTC(),
	}
}

// Kind returns the payload's kind.
func (e Envelope) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type wireEnvelope struct {
	Kind            Kind            `json:"kind"`
	ChatID          string          `json:"chat_id,omitempty"`
	PeerID          string          `json:"peer_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ServerTimestamp time.Time       `json:"server_ts"`
}

// MarshalJSON encodes the envelope in its wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("envelope without payload")
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Payload.Kind(), err)
	}
	return json.Marshal(wireEnvelope{
		Kind:            e.Payload.Kind(),
		ChatID:          e.ChatID,
		PeerID:          e.PeerID,
		Payload:         body,
		ServerTimestamp: e.ServerTimestamp,
	})
}

// UnmarshalJSON decodes the wire form, rejecting unknown kinds.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(w.Payload, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Kind, err)
	}
	*e = Envelope{
		ChatID:          w.ChatID,
		PeerID:          w.PeerID,
		Payload:         deref(p),
		ServerTimestamp: w.ServerTimestamp,
	}
	return nil
}

func newPayload(k Kind) (any, error) {
	switch k {
	case KindNewMessage:
		return &NewMessage{}, nil
	case KindPresenceChanged:
		return &PresenceChanged{}, nil
	case KindTypingUpdate:
		return &TypingUpdate{}, nil
	case KindReadReceipt:
		return &ReadReceipt{}, nil
	case KindIncomingCall:
		return &IncomingCall{}, nil
	case KindCallStatus:
		return &CallStatus{}, nil
	case KindCallAccepted:
		return &CallAccepted{}, nil
	case KindCallConnected:
		return &CallConnected{}, nil
	case KindCallDeclined:
		return &CallDeclined{}, nil
	case KindCallCanceled:
		return &CallCanceled{}, nil
	case KindCallEnd:
		return &CallEnd{}, nil
	case KindCallSignal:
		return &CallSignal{}, nil
	case KindError:
		return &Error{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", k)
	}
}

func deref(p any) Payload {
	switch v := p.(type) {
	case *NewMessage:
		return *v
	case *PresenceChanged:
		return *v
	case *TypingUpdate:
		return *v
	case *ReadReceipt:
		return *v
	case *IncomingCall:
		return *v
	case *CallStatus:
		return *v
	case *CallAccepted:
		return *v
	case *CallConnected:
		return *v
	case *CallDeclined:
		return *v
	case *CallCanceled:
		return *v
	case *CallEnd:
		return *v
	case *CallSignal:
		return *v
	case *Error:
		return *v
	}
	panic(fmt.Sprintf("event: unhandled payload type %T", p))
}
