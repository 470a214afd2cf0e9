// Package chattest provides in-memory collaborators for tests of the
// delivery components.
package chattest

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/registry"
)

// ErrInjected is returned by a session set to fail.
var ErrInjected = errors.New("injected send failure")

// Session records every envelope it is sent.
type Session struct {
	id      string
	userID  string
	created time.Time

	mu     sync.Mutex
	got    []event.Envelope
	fail   bool
	closed bool
}

var _ registry.Session = (*Session)(nil)

// NewSession creates a session for userID with a random id.
func NewSession(userID string) *Session {
	return &Session{id: uuid.NewString(), userID: userID, created: time.Now()}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) UserID() string       { return s.userID }
func (s *Session) CreatedAt() time.Time { return s.created }

func (s *Session) Send(env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return registry.ErrSessionClosed
	}
	if s.fail {
		return ErrInjected
	}
	s.got = append(s.got, env)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// FailSends makes every following Send return ErrInjected.
func (s *Session) FailSends() {
	s.mu.Lock()
	s.fail = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Envelopes returns a copy of everything received.
func (s *Session) Envelopes() []event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Envelope, len(s.got))
	copy(out, s.got)
	return out
}

// OfKind returns received envelopes of kind k.
func (s *Session) OfKind(k event.Kind) []event.Envelope {
	var out []event.Envelope
	for _, env := range s.Envelopes() {
		if env.Kind() == k {
			out = append(out, env)
		}
	}
	return out
}

// Reset forgets received envelopes.
func (s *Session) Reset() {
	s.mu.Lock()
	s.got = nil
	s.mu.Unlock()
}
