// Package presence derives online/offline state from the registry and
// broadcasts transitions to direct-chat peers.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/keyed"
	"github.com/matheus3301/parley/internal/registry"
	"go.uber.org/zap"
)

// PeerResolver lists the users that should hear about a user's presence.
type PeerResolver interface {
	DirectPeers(ctx context.Context, userID string) ([]string, error)
}

// LastSeenStore persists last-seen timestamps. Optional.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// State is a user's derived presence.
type State struct {
	UserID   string
	Online   bool
	Sessions int
	LastSeen time.Time
}

// Change is published on the bus for every transition.
type Change struct {
	UserID   string
	Status   string
	LastSeen time.Time
}

// Tracker owns session registration so that the first/last-session decision
// and its broadcast are serialized per user.
type Tracker struct {
	reg    *registry.Registry
	peers  PeerResolver
	store  LastSeenStore
	bus    *bus.Bus
	logger *zap.Logger
	locks  *keyed.Mutex
	now    func() time.Time

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLastSeenStore persists last-seen timestamps.
func WithLastSeenStore(s LastSeenStore) Option {
	return func(t *Tracker) { t.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a presence tracker over reg.
func NewTracker(reg *registry.Registry, peers PeerResolver, b *bus.Bus, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		reg:      reg,
		peers:    peers,
		bus:      b,
		logger:   logger,
		locks:    keyed.New(0),
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnConnect registers s and, if it is the user's first live session,
// broadcasts "online". It reports whether a transition happened.
func (t *Tracker) OnConnect(ctx context.Context, s registry.Session) bool {
	unlock := t.locks.Lock(s.UserID())
	defer unlock()

	if !t.reg.Register(s) {
		return false
	}
	t.logger.Info("user online", zap.String("user", s.UserID()), zap.String("session", s.ID()))
	t.broadcast(ctx, s.UserID(), event.PresenceChanged{UserID: s.UserID(), Status: event.StatusOnline})
	t.bus.Emit(bus.KindPresenceChanged, Change{UserID: s.UserID(), Status: event.StatusOnline})
	return true
}

// OnDisconnect unregisters s and, if the user has no session left, records
// last-seen and broadcasts "offline". It reports whether a transition happened.
func (t *Tracker) OnDisconnect(ctx context.Context, s registry.Session) bool {
	unlock := t.locks.Lock(s.UserID())
	defer unlock()

	if !t.reg.Unregister(s) {
		return false
	}
	seen := t.now().UTC()
	t.mu.Lock()
	t.lastSeen[s.UserID()] = seen
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SetLastSeen(ctx, s.UserID(), seen); err != nil {
			t.logger.Warn("persist last seen failed", zap.String("user", s.UserID()), zap.Error(err))
		}
	}

	t.logger.Info("user offline", zap.String("user", s.UserID()), zap.String("session", s.ID()))
	t.broadcast(ctx, s.UserID(), event.PresenceChanged{UserID: s.UserID(), Status: event.StatusOffline, LastSeen: &seen})
	t.bus.Emit(bus.KindPresenceChanged, Change{UserID: s.UserID(), Status: event.StatusOffline, LastSeen: seen})
	return true
}

// broadcast enqueues the change to every online direct-chat peer. Enqueueing
// never blocks, so holding the user's stripe here cannot stall on a slow peer.
func (t *Tracker) broadcast(ctx context.Context, userID string, change event.PresenceChanged) {
	if t.peers == nil {
		return
	}
	peers, err := t.peers.DirectPeers(ctx, userID)
	if err != nil {
		t.logger.Warn("resolve presence peers failed", zap.String("user", userID), zap.Error(err))
		return
	}
	env := event.New("", userID, change)
	for _, p := range peers {
		t.reg.Send(p, env)
	}
}

// Status reports the derived presence of userID.
func (t *Tracker) Status(ctx context.Context, userID string) State {
	st := State{UserID: userID, Sessions: len(t.reg.SessionsOf(userID))}
	st.Online = st.Sessions > 0

	t.mu.RLock()
	seen, ok := t.lastSeen[userID]
	t.mu.RUnlock()
	if ok {
		st.LastSeen = seen
		return st
	}
	if t.store != nil {
		if at, found, err := t.store.LastSeen(ctx, userID); err == nil && found {
			st.LastSeen = at
		}
	}
	return st
}

var _ PeerResolver = chat.Directory(nil)
