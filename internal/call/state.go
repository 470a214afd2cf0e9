package call

import (
	"fmt"
	"slices"
	"time"
)

// State is the negotiation state of a chat's call.
type State string

const (
	Idle      State = "IDLE"
	Ringing   State = "RINGING"
	Connected State = "CONNECTED"
	Declined  State = "DECLINED"
	Cancelled State = "CANCELLED"
	Timeout   State = "TIMEOUT"
	Ended     State = "ENDED"
)

// validTransitions defines allowed call state transitions. Terminal states
// fall back to Idle implicitly: nothing is stored for them.
var validTransitions = map[State][]State{
	Idle:      {Ringing},
	Ringing:   {Connected, Declined, Cancelled, Timeout, Ended},
	Connected: {Ended},
}

// CheckTransition reports whether from -> to is allowed.
func CheckTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid call transition from %s to %s", from, to)
	}
	return nil
}

// StateChange is published on the bus for every call transition.
type StateChange struct {
	ChatID   string
	CallerID string
	CalleeID string
	From     State
	To       State
	Reason   string
}

// Response is the callee's answer to a ringing call.
type Response string

const (
	Accept  Response = "accept"
	Decline Response = "decline"
)

// PendingCall is the single in-flight negotiation for a chat id.
type PendingCall struct {
	ChatID    string
	CallerID  string
	CalleeID  string
	CreatedAt time.Time

	timer *time.Timer
}

// ActiveCall is a connected call, kept so that hangups, peer loss and
// signaling frames can be routed.
type ActiveCall struct {
	ChatID      string
	CallerID    string
	CalleeID    string
	ConnectedAt time.Time
}

func (a *ActiveCall) other(userID string) (string, bool) {
	switch userID {
	case a.CallerID:
		return a.CalleeID, true
	case a.CalleeID:
		return a.CallerID, true
	}
	return "", false
}

func (p *PendingCall) other(userID string) (string, bool) {
	switch userID {
	case p.CallerID:
		return p.CalleeID, true
	case p.CalleeID:
		return p.CallerID, true
	}
	return "", false
}
