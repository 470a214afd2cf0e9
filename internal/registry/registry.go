// Package registry tracks the live sessions of every connected user.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/keyed"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned by Session.Send once the session is gone.
var ErrSessionClosed = errors.New("session closed")

// Session is one live transport connection.
type Session interface {
	ID() string
	UserID() string
	CreatedAt() time.Time
	// Send enqueues without blocking. An error means the session can no
	// longer be delivered to and must be pruned.
	Send(env event.Envelope) error
	Close() error
}

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	users map[string][]Session
}

// Registry maps user ids to their ordered set of live sessions. A user id is
// present if and only if it has at least one session.
type Registry struct {
	shards [shardCount]shard
	logger *zap.Logger
	bus    *bus.Bus

	evictMu sync.RWMutex
	evict   func(Session)
}

// New creates an empty registry. Until SetEvictHandler is called, evicted
// sessions are simply unregistered.
func New(b *bus.Bus, logger *zap.Logger) *Registry {
	r := &Registry{logger: logger, bus: b}
	for i := range r.shards {
		r.shards[i].users = make(map[string][]Session)
	}
	r.evict = func(s Session) { r.Unregister(s) }
	return r
}

// SetEvictHandler installs the release path invoked for sessions that failed
// a send. The handler runs on its own goroutine.
func (r *Registry) SetEvictHandler(fn func(Session)) {
	r.evictMu.Lock()
	r.evict = fn
	r.evictMu.Unlock()
}

func (r *Registry) shardFor(userID string) *shard {
	return &r.shards[keyed.Index(userID, shardCount)]
}

// Register adds a session. It reports whether this is the user's first live
// session. Registering the same session id twice is a no-op.
func (r *Registry) Register(s Session) (first bool) {
	sh := r.shardFor(s.UserID())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set := sh.users[s.UserID()]
	for _, existing := range set {
		if existing.ID() == s.ID() {
			return false
		}
	}
	sh.users[s.UserID()] = append(set, s)
	return len(set) == 0
}

// Unregister removes a session. It reports whether the removal emptied the
// user's set; the entry itself is dropped in that case. Removing an unknown
// session reports false.
func (r *Registry) Unregister(s Session) (last bool) {
	sh := r.shardFor(s.UserID())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set := sh.users[s.UserID()]
	idx := -1
	for i, existing := range set {
		if existing.ID() == s.ID() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	if len(set) == 1 {
		delete(sh.users, s.UserID())
		return true
	}
	next := make([]Session, 0, len(set)-1)
	next = append(next, set[:idx]...)
	next = append(next, set[idx+1:]...)
	sh.users[s.UserID()] = next
	return false
}

// SessionsOf returns a snapshot of the user's sessions in registration order.
func (r *Registry) SessionsOf(userID string) []Session {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	set := sh.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Session, len(set))
	copy(out, set)
	return out
}

// Online reports whether the user has at least one live session.
func (r *Registry) Online(userID string) bool {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.users[userID]
	return ok
}

// Send delivers env to every live session of userID and returns how many
// accepted it. Sessions that fail are evicted; the others still receive it.
func (r *Registry) Send(userID string, env event.Envelope) int {
	delivered := 0
	for _, s := range r.SessionsOf(userID) {
		if err := s.Send(env); err != nil {
			r.logger.Warn("delivery failed, evicting session",
				zap.String("user", userID),
				zap.String("session", s.ID()),
				zap.String("kind", string(env.Kind())),
				zap.Error(err))
			r.Evict(s)
			continue
		}
		delivered++
	}
	return delivered
}

// SendAll delivers env to each user in userIDs and returns the total count of
// sessions reached.
func (r *Registry) SendAll(userIDs []string, env event.Envelope) int {
	total := 0
	for _, id := range userIDs {
		total += r.Send(id, env)
	}
	return total
}

// Evict closes a session and hands it to the release path.
func (r *Registry) Evict(s Session) {
	_ = s.Close()
	r.bus.Emit(bus.KindSessionEvicted, SessionRef{UserID: s.UserID(), SessionID: s.ID()})

	r.evictMu.RLock()
	fn := r.evict
	r.evictMu.RUnlock()
	go fn(s)
}

// All returns a snapshot of every live session.
func (r *Registry) All() []Session {
	var out []Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, set := range sh.users {
			out = append(out, set...)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Stats counts online users and live sessions.
func (r *Registry) Stats() Stats {
	var st Stats
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		st.Users += len(sh.users)
		for _, set := range sh.users {
			st.Sessions += len(set)
		}
		sh.mu.RUnlock()
	}
	return st
}

// Stats is a point-in-time registry summary.
type Stats struct {
	Users    int
	Sessions int
}

// SessionRef identifies a session in bus events.
type SessionRef struct {
	UserID    string
	SessionID string
}
