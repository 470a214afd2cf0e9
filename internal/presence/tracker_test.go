package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chattest"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	reg     *registry.Registry
	dir     *chattest.Directory
	tracker *presence.Tracker
	bus     *bus.Bus
}

func newFixture(t *testing.T, opts ...presence.Option) *fixture {
	t.Helper()
	b := bus.New()
	reg := registry.New(b, zap.NewNop())
	dir := chattest.NewDirectory()
	dir.AddDirect("d-ab", "alice", "bob")
	return &fixture{
		reg:     reg,
		dir:     dir,
		bus:     b,
		tracker: presence.NewTracker(reg, dir, b, zap.NewNop(), opts...),
	}
}

func statuses(s *chattest.Session) []string {
	var out []string
	for _, env := range s.OfKind(event.KindPresenceChanged) {
		out = append(out, env.Payload.(event.PresenceChanged).Status)
	}
	return out
}

func TestConnectDisconnectSinglePeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := chattest.NewSession("bob")
	f.tracker.OnConnect(ctx, bob)
	bob.Reset()

	alice := chattest.NewSession("alice")
	assert.True(t, f.tracker.OnConnect(ctx, alice))
	assert.True(t, f.tracker.OnDisconnect(ctx, alice))

	assert.False(t, f.reg.Online("alice"))
	assert.Nil(t, f.reg.SessionsOf("alice"))
	assert.Equal(t, []string{event.StatusOnline, event.StatusOffline}, statuses(bob))

	offline := bob.OfKind(event.KindPresenceChanged)[1]
	assert.Equal(t, "alice", offline.PeerID)
	pc := offline.Payload.(event.PresenceChanged)
	require.NotNil(t, pc.LastSeen)
	assert.False(t, pc.LastSeen.IsZero())
}

func TestMultiDeviceTransitionsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := chattest.NewSession("bob")
	f.tracker.OnConnect(ctx, bob)
	bob.Reset()

	phone := chattest.NewSession("alice")
	laptop := chattest.NewSession("alice")

	assert.True(t, f.tracker.OnConnect(ctx, phone))
	assert.False(t, f.tracker.OnConnect(ctx, laptop))
	assert.Equal(t, []string{event.StatusOnline}, statuses(bob))

	assert.False(t, f.tracker.OnDisconnect(ctx, phone))
	assert.Equal(t, []string{event.StatusOnline}, statuses(bob))

	assert.True(t, f.tracker.OnDisconnect(ctx, laptop))
	assert.Equal(t, []string{event.StatusOnline, event.StatusOffline}, statuses(bob))
}

func TestGroupMembersDoNotReceivePresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.AddGroup("g1", "alice", "carol")
	carol := chattest.NewSession("carol")
	f.tracker.OnConnect(ctx, carol)

	f.tracker.OnConnect(ctx, chattest.NewSession("alice"))
	assert.Empty(t, statuses(carol))
}

func TestDisconnectUnknownSessionEmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := chattest.NewSession("bob")
	f.tracker.OnConnect(ctx, bob)
	bob.Reset()

	assert.False(t, f.tracker.OnDisconnect(ctx, chattest.NewSession("alice")))
	assert.Empty(t, bob.Envelopes())
}

func TestStatusReportsLastSeen(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	f := newFixture(t, presence.WithClock(func() time.Time { return at }))
	ctx := context.Background()

	s := chattest.NewSession("alice")
	f.tracker.OnConnect(ctx, s)
	st := f.tracker.Status(ctx, "alice")
	assert.True(t, st.Online)
	assert.Equal(t, 1, st.Sessions)

	f.tracker.OnDisconnect(ctx, s)
	st = f.tracker.Status(ctx, "alice")
	assert.False(t, st.Online)
	assert.Equal(t, at, st.LastSeen)
}

type memLastSeen struct {
	at map[string]time.Time
}

func (m *memLastSeen) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	m.at[userID] = at
	return nil
}

func (m *memLastSeen) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	at, ok := m.at[userID]
	return at, ok, nil
}

func TestLastSeenPersistedAndRecalled(t *testing.T) {
	store := &memLastSeen{at: map[string]time.Time{}}
	f := newFixture(t, presence.WithLastSeenStore(store))
	ctx := context.Background()

	s := chattest.NewSession("alice")
	f.tracker.OnConnect(ctx, s)
	f.tracker.OnDisconnect(ctx, s)
	require.Contains(t, store.at, "alice")

	// A fresh tracker (process restart) falls back to the store.
	restarted := presence.NewTracker(f.reg, f.dir, f.bus, zap.NewNop(), presence.WithLastSeenStore(store))
	assert.Equal(t, store.at["alice"], restarted.Status(ctx, "alice").LastSeen)
}

func TestTransitionsPublishedOnBus(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe("presence.", 4)
	defer unsub()
	ctx := context.Background()

	s := chattest.NewSession("alice")
	f.tracker.OnConnect(ctx, s)
	f.tracker.OnDisconnect(ctx, s)

	require.Len(t, ch, 2)
	first := (<-ch).Payload.(presence.Change)
	second := (<-ch).Payload.(presence.Change)
	assert.Equal(t, event.StatusOnline, first.Status)
	assert.Equal(t, event.StatusOffline, second.Status)
}
