package chat

import "errors"

var (
	ErrAuthFailed         = errors.New("authentication failed")
	ErrNotAMember         = errors.New("not a member of chat")
	ErrPersistenceFailed  = errors.New("persistence failed")
	ErrCalleeOffline      = errors.New("callee offline")
	ErrCallerGone         = errors.New("caller gone")
	ErrAlreadyPending     = errors.New("call already pending")
	ErrNoPendingCall      = errors.New("no pending call")
	ErrWrongCallee        = errors.New("wrong callee")
	ErrNoActiveCall       = errors.New("no active call")
	ErrInvalidCall        = errors.New("invalid call")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrChatNotFound       = errors.New("chat not found")
	ErrEmptyBody          = errors.New("empty message body")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrAuthFailed, "auth_failed"},
	{ErrNotAMember, "not_a_member"},
	{ErrPersistenceFailed, "persistence_failed"},
	{ErrCalleeOffline, "callee_offline"},
	{ErrCallerGone, "caller_gone"},
	{ErrAlreadyPending, "already_pending"},
	{ErrNoPendingCall, "no_pending_call"},
	{ErrWrongCallee, "wrong_callee"},
	{ErrNoActiveCall, "no_active_call"},
	{ErrInvalidCall, "invalid_call"},
	{ErrDeliveryFailed, "delivery_failed"},
	{ErrInvalidDestination, "invalid_destination"},
	{ErrChatNotFound, "chat_not_found"},
	{ErrEmptyBody, "empty_body"},
}

// Code maps an error onto the stable code sent in error envelopes.
// Errors outside the taxonomy map to "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
