// Package call runs the per-chat call-signaling state machine.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/keyed"
	"github.com/matheus3301/parley/internal/registry"
	"go.uber.org/zap"
)

// DefaultRingTimeout bounds how long a call may ring unanswered.
const DefaultRingTimeout = 45 * time.Second

const tableCount = 32

// End reasons carried in call_end and call_status.
const (
	ReasonHangup           = "hangup"
	ReasonDeclined         = "declined"
	ReasonPeerDisconnected = "peer_disconnected"
	ReasonCallerGone       = "caller_gone"
)

type table struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
	active  map[string]*ActiveCall
}

// Service owns every PendingCall and ActiveCall, sharded by chat id.
type Service struct {
	dir         chat.Directory
	reg         *registry.Registry
	bus         *bus.Bus
	logger      *zap.Logger
	ringTimeout time.Duration
	now         func() time.Time

	tables [tableCount]table
}

// NewService creates a call service. ringTimeout <= 0 uses DefaultRingTimeout.
func NewService(dir chat.Directory, reg *registry.Registry, b *bus.Bus, logger *zap.Logger, ringTimeout time.Duration) *Service {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	s := &Service{
		dir:         dir,
		reg:         reg,
		bus:         b,
		logger:      logger,
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
	for i := range s.tables {
		s.tables[i].pending = make(map[string]*PendingCall)
		s.tables[i].active = make(map[string]*ActiveCall)
	}
	return s
}

func (s *Service) table(chatID string) *table {
	return &s.tables[keyed.Index(chatID, tableCount)]
}

// ParseResponse validates a callee's answer.
func ParseResponse(v string) (Response, error) {
	switch Response(v) {
	case Accept, Decline:
		return Response(v), nil
	}
	return "", fmt.Errorf("%w: unknown response %q", chat.ErrInvalidCall, v)
}

// RequestCall rings the other participant of a direct chat. At most one
// PendingCall exists per chat id; the claim is an atomic check-and-insert.
func (s *Service) RequestCall(ctx context.Context, chatID, callerID string) error {
	t := s.table(chatID)
	t.mu.Lock()
	_, busy := t.pending[chatID]
	t.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: chat %s", chat.ErrAlreadyPending, chatID)
	}

	calleeID, err := s.resolveCallee(ctx, chatID, callerID)
	if err != nil {
		return err
	}
	if !s.reg.Online(calleeID) {
		return fmt.Errorf("%w: %s", chat.ErrCalleeOffline, calleeID)
	}

	pc := &PendingCall{ChatID: chatID, CallerID: callerID, CalleeID: calleeID, CreatedAt: s.now().UTC()}
	t.mu.Lock()
	if _, busy := t.pending[chatID]; busy {
		t.mu.Unlock()
		return fmt.Errorf("%w: chat %s", chat.ErrAlreadyPending, chatID)
	}
	// OnPeerGone runs after unregistration and needs this lock, so a caller
	// seen online here is either still connected or will be cleaned up.
	if !s.reg.Online(callerID) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", chat.ErrCallerGone, callerID)
	}
	t.pending[chatID] = pc
	pc.timer = time.AfterFunc(s.ringTimeout, func() { s.expire(pc) })
	t.mu.Unlock()

	s.publish(pc.ChatID, callerID, calleeID, Idle, Ringing, "")

	if s.reg.Send(calleeID, event.New(chatID, callerID, event.IncomingCall{CallerID: callerID})) == 0 {
		// The callee's sessions all failed between the online check and now.
		if s.clearPending(pc) {
			s.publish(chatID, callerID, calleeID, Ringing, Ended, chat.Code(chat.ErrCalleeOffline))
		}
		return fmt.Errorf("%w: %s", chat.ErrCalleeOffline, calleeID)
	}
	s.reg.Send(callerID, event.New(chatID, calleeID, event.CallStatus{Status: event.CallRinging}))
	s.logger.Info("call ringing", zap.String("chat", chatID), zap.String("caller", callerID), zap.String("callee", calleeID))
	return nil
}

func (s *Service) resolveCallee(ctx context.Context, chatID, callerID string) (string, error) {
	members, err := s.dir.MembersOf(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("resolve members of %s: %w", chatID, err)
	}
	if len(members) == 0 {
		return "", fmt.Errorf("%w: chat %s has no members", chat.ErrInvalidCall, chatID)
	}
	if !slices.Contains(members, callerID) {
		return "", fmt.Errorf("%w: %s", chat.ErrNotAMember, chatID)
	}
	kind, err := s.dir.KindOf(ctx, chatID)
	if err != nil {
		return "", err
	}
	if kind != chat.KindDirect {
		return "", fmt.Errorf("%w: calls are only supported in direct chats", chat.ErrInvalidCall)
	}
	var others []string
	for _, m := range members {
		if m != callerID {
			others = append(others, m)
		}
	}
	if len(others) != 1 {
		return "", fmt.Errorf("%w: chat %s has %d peers for %s", chat.ErrInvalidCall, chatID, len(others), callerID)
	}
	return others[0], nil
}

// AnswerCall accepts or declines the chat's PendingCall on behalf of calleeID.
func (s *Service) AnswerCall(ctx context.Context, chatID, calleeID string, resp Response) error {
	if _, err := ParseResponse(string(resp)); err != nil {
		return err
	}
	t := s.table(chatID)
	t.mu.Lock()
	pc, ok := t.pending[chatID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: chat %s", chat.ErrNoPendingCall, chatID)
	}
	if pc.CalleeID != calleeID {
		t.mu.Unlock()
		return fmt.Errorf("%w: chat %s", chat.ErrWrongCallee, chatID)
	}
	delete(t.pending, chatID)
	pc.timer.Stop()
	callerGone := !s.reg.Online(pc.CallerID)
	if !callerGone && resp == Accept {
		t.active[chatID] = &ActiveCall{ChatID: chatID, CallerID: pc.CallerID, CalleeID: pc.CalleeID, ConnectedAt: s.now().UTC()}
	}
	t.mu.Unlock()

	if callerGone {
		s.publish(chatID, pc.CallerID, pc.CalleeID, Ringing, Ended, ReasonCallerGone)
		return fmt.Errorf("%w: %s", chat.ErrCallerGone, pc.CallerID)
	}

	switch resp {
	case Accept:
		s.reg.Send(pc.CallerID, event.New(chatID, calleeID, event.CallAccepted{CalleeID: calleeID}))
		s.reg.Send(calleeID, event.New(chatID, pc.CallerID, event.CallConnected{CallerID: pc.CallerID}))
		s.publish(chatID, pc.CallerID, calleeID, Ringing, Connected, "")
	case Decline:
		ended := event.CallStatus{Status: event.CallEnded, Reason: ReasonDeclined}
		s.reg.Send(pc.CallerID, event.New(chatID, calleeID, event.CallDeclined{CalleeID: calleeID}))
		s.reg.Send(pc.CallerID, event.New(chatID, calleeID, ended))
		s.reg.Send(calleeID, event.New(chatID, pc.CallerID, ended))
		s.publish(chatID, pc.CallerID, calleeID, Ringing, Declined, ReasonDeclined)
	}
	return nil
}

// CancelCall withdraws a ringing call. It is a no-op unless callerID placed
// the chat's PendingCall; it reports whether anything was cancelled.
func (s *Service) CancelCall(ctx context.Context, chatID, callerID string) bool {
	t := s.table(chatID)
	t.mu.Lock()
	pc, ok := t.pending[chatID]
	if !ok || pc.CallerID != callerID {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, chatID)
	pc.timer.Stop()
	t.mu.Unlock()

	s.reg.Send(pc.CalleeID, event.New(chatID, callerID, event.CallCanceled{CallerID: callerID}))
	s.publish(chatID, callerID, pc.CalleeID, Ringing, Cancelled, "")
	return true
}

// Hangup ends a connected call and notifies the other participant.
func (s *Service) Hangup(ctx context.Context, chatID, userID string) error {
	t := s.table(chatID)
	t.mu.Lock()
	ac, ok := t.active[chatID]
	var peer string
	if ok {
		peer, ok = ac.other(userID)
	}
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: chat %s", chat.ErrNoActiveCall, chatID)
	}
	delete(t.active, chatID)
	t.mu.Unlock()

	s.reg.Send(peer, event.New(chatID, userID, event.CallEnd{PeerID: userID, Reason: ReasonHangup}))
	s.publish(chatID, ac.CallerID, ac.CalleeID, Connected, Ended, ReasonHangup)
	return nil
}

// Signal relays an SDP/ICE frame from one participant of a ringing or
// connected call to the other.
func (s *Service) Signal(ctx context.Context, chatID, fromID string, data json.RawMessage) error {
	t := s.table(chatID)
	t.mu.Lock()
	var peer string
	ok := false
	if ac, found := t.active[chatID]; found {
		peer, ok = ac.other(fromID)
	}
	if !ok {
		if pc, found := t.pending[chatID]; found {
			peer, ok = pc.other(fromID)
		}
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: chat %s", chat.ErrNoActiveCall, chatID)
	}

	if s.reg.Send(peer, event.New(chatID, fromID, event.CallSignal{FromID: fromID, Data: data})) == 0 {
		s.logger.Debug("call signal not delivered", zap.String("chat", chatID), zap.String("to", peer))
	}
	return nil
}

// OnPeerGone ends every ringing or connected call involving userID and
// notifies the surviving peer. It is driven by the disconnect path.
func (s *Service) OnPeerGone(userID string) {
	type ended struct {
		chatID, callerID, calleeID, survivor string
		from                                 State
	}
	var gone []ended

	for i := range s.tables {
		t := &s.tables[i]
		t.mu.Lock()
		for chatID, pc := range t.pending {
			if peer, ok := pc.other(userID); ok {
				pc.timer.Stop()
				delete(t.pending, chatID)
				gone = append(gone, ended{chatID, pc.CallerID, pc.CalleeID, peer, Ringing})
			}
		}
		for chatID, ac := range t.active {
			if peer, ok := ac.other(userID); ok {
				delete(t.active, chatID)
				gone = append(gone, ended{chatID, ac.CallerID, ac.CalleeID, peer, Connected})
			}
		}
		t.mu.Unlock()
	}

	for _, g := range gone {
		s.reg.Send(g.survivor, event.New(g.chatID, userID, event.CallEnd{PeerID: userID, Reason: ReasonPeerDisconnected}))
		s.publish(g.chatID, g.callerID, g.calleeID, g.from, Ended, ReasonPeerDisconnected)
	}
}

func (s *Service) expire(pc *PendingCall) {
	if !s.clearPending(pc) {
		return
	}
	status := event.CallStatus{Status: event.CallTimeout}
	s.reg.Send(pc.CallerID, event.New(pc.ChatID, pc.CalleeID, status))
	s.reg.Send(pc.CalleeID, event.New(pc.ChatID, pc.CallerID, status))
	s.publish(pc.ChatID, pc.CallerID, pc.CalleeID, Ringing, Timeout, "")
	s.logger.Info("call timed out", zap.String("chat", pc.ChatID))
}

// clearPending removes pc if it is still the chat's PendingCall.
func (s *Service) clearPending(pc *PendingCall) bool {
	t := s.table(pc.ChatID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[pc.ChatID] != pc {
		return false
	}
	delete(t.pending, pc.ChatID)
	pc.timer.Stop()
	return true
}

// State reports the chat's current call state.
func (s *Service) State(chatID string) State {
	t := s.table(chatID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[chatID]; ok {
		return Ringing
	}
	if _, ok := t.active[chatID]; ok {
		return Connected
	}
	return Idle
}

// Pending returns a copy of the chat's PendingCall, if any.
func (s *Service) Pending(chatID string) (PendingCall, bool) {
	t := s.table(chatID)
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.pending[chatID]
	if !ok {
		return PendingCall{}, false
	}
	return PendingCall{ChatID: pc.ChatID, CallerID: pc.CallerID, CalleeID: pc.CalleeID, CreatedAt: pc.CreatedAt}, true
}

// Stats counts ringing and connected calls.
func (s *Service) Stats() (ringing, connected int) {
	for i := range s.tables {
		t := &s.tables[i]
		t.mu.Lock()
		ringing += len(t.pending)
		connected += len(t.active)
		t.mu.Unlock()
	}
	return ringing, connected
}

func (s *Service) publish(chatID, callerID, calleeID string, from, to State, reason string) {
	if err := CheckTransition(from, to); err != nil {
		s.logger.Error("call state machine violation", zap.String("chat", chatID), zap.Error(err))
		return
	}
	s.bus.Emit(bus.KindCallStateChanged, StateChange{
		ChatID:   chatID,
		CallerID: callerID,
		CalleeID: calleeID,
		From:     from,
		To:       to,
		Reason:   reason,
	})
}
