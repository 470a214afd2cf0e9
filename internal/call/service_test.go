package call_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/chattest"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	reg   *registry.Registry
	dir   *chattest.Directory
	calls *call.Service
	bus   *bus.Bus
}

func newFixture(ringTimeout time.Duration) *fixture {
	b := bus.New()
	reg := registry.New(b, zap.NewNop())
	dir := chattest.NewDirectory()
	dir.AddDirect("c1", "alice", "bob")
	return &fixture{reg: reg, dir: dir, bus: b, calls: call.NewService(dir, reg, b, zap.NewNop(), ringTimeout)}
}

func (f *fixture) connect(userID string) *chattest.Session {
	s := chattest.NewSession(userID)
	f.reg.Register(s)
	return s
}

func TestTransitionTable(t *testing.T) {
	assert.NoError(t, call.CheckTransition(call.Idle, call.Ringing))
	assert.NoError(t, call.CheckTransition(call.Ringing, call.Connected))
	assert.NoError(t, call.CheckTransition(call.Connected, call.Ended))
	assert.Error(t, call.CheckTransition(call.Idle, call.Connected))
	assert.Error(t, call.CheckTransition(call.Connected, call.Ringing))
	assert.Error(t, call.CheckTransition(call.Declined, call.Connected))
}

func TestCallScenario(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	alice := f.connect("alice")

	err := f.calls.RequestCall(ctx, "c1", "alice")
	require.ErrorIs(t, err, chat.ErrCalleeOffline)
	assert.Equal(t, call.Idle, f.calls.State("c1"))

	bob := f.connect("bob")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	assert.Equal(t, call.Ringing, f.calls.State("c1"))
	incoming := bob.OfKind(event.KindIncomingCall)
	require.Len(t, incoming, 1)
	assert.Equal(t, "alice", incoming[0].Payload.(event.IncomingCall).CallerID)
	ringing := alice.OfKind(event.KindCallStatus)
	require.Len(t, ringing, 1)
	assert.Equal(t, event.CallRinging, ringing[0].Payload.(event.CallStatus).Status)

	require.NoError(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Accept))
	assert.Len(t, alice.OfKind(event.KindCallAccepted), 1)
	assert.Len(t, bob.OfKind(event.KindCallConnected), 1)
	_, pending := f.calls.Pending("c1")
	assert.False(t, pending)
	assert.Equal(t, call.Connected, f.calls.State("c1"))

	err = f.calls.AnswerCall(ctx, "c1", "bob", call.Accept)
	assert.ErrorIs(t, err, chat.ErrNoPendingCall)

	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	assert.Len(t, bob.OfKind(event.KindIncomingCall), 2)
}

func TestRequestCallAlreadyPendingRegardlessOfCaller(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	f.connect("alice")
	f.connect("bob")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))

	assert.ErrorIs(t, f.calls.RequestCall(ctx, "c1", "alice"), chat.ErrAlreadyPending)
	assert.ErrorIs(t, f.calls.RequestCall(ctx, "c1", "bob"), chat.ErrAlreadyPending)
	assert.ErrorIs(t, f.calls.RequestCall(ctx, "c1", "mallory"), chat.ErrAlreadyPending)
}

func TestConcurrentRequestsClaimOnce(t *testing.T) {
	f := newFixture(time.Minute)
	f.connect("alice")
	f.connect("bob")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.calls.RequestCall(context.Background(), "c1", "alice") == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestRequestCallValidation(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	f.connect("alice")
	f.connect("bob")
	f.dir.AddGroup("g1", "alice", "bob", "carol")
	f.dir.AddDirect("self", "alice", "alice")

	assert.ErrorIs(t, f.calls.RequestCall(ctx, "nowhere", "alice"), chat.ErrInvalidCall)
	assert.ErrorIs(t, f.calls.RequestCall(ctx, "g1", "alice"), chat.ErrInvalidCall)
	assert.ErrorIs(t, f.calls.RequestCall(ctx, "self", "alice"), chat.ErrInvalidCall)
	assert.ErrorIs(t, f.calls.RequestCall(ctx, "c1", "mallory"), chat.ErrNotAMember)

	ringing, _ := f.calls.Stats()
	assert.Zero(t, ringing)
}

func TestAnswerCallPreconditions(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	f.connect("alice")
	f.connect("bob")

	assert.ErrorIs(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Accept), chat.ErrNoPendingCall)

	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	assert.ErrorIs(t, f.calls.AnswerCall(ctx, "c1", "alice", call.Accept), chat.ErrWrongCallee)
	assert.ErrorIs(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Response("maybe")), chat.ErrInvalidCall)
	assert.Equal(t, call.Ringing, f.calls.State("c1"))
}

func TestAnswerCallCallerGoneClearsPending(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	alice := f.connect("alice")
	f.connect("bob")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))

	f.reg.Unregister(alice)
	assert.ErrorIs(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Accept), chat.ErrCallerGone)
	assert.Equal(t, call.Idle, f.calls.State("c1"))
}

func TestRequestCallFromDisconnectedCaller(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	alice := f.connect("alice")
	f.connect("bob")

	// Disconnect cleanup already ran for alice.
	f.reg.Unregister(alice)
	f.calls.OnPeerGone("alice")

	require.ErrorIs(t, f.calls.RequestCall(ctx, "c1", "alice"), chat.ErrCallerGone)
	assert.Equal(t, call.Idle, f.calls.State("c1"))

	// A reconnected caller is not blocked by a leftover claim.
	f.connect("alice")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	assert.Equal(t, call.Ringing, f.calls.State("c1"))
}

func TestDecline(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	alice := f.connect("alice")
	bob := f.connect("bob")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))

	require.NoError(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Decline))
	assert.Len(t, alice.OfKind(event.KindCallDeclined), 1)

	// The caller saw ringing first, then ended.
	callerStatus := alice.OfKind(event.KindCallStatus)
	require.Len(t, callerStatus, 2)
	assert.Equal(t, event.CallRinging, callerStatus[0].Payload.(event.CallStatus).Status)
	assert.Equal(t, event.CallStatus{Status: event.CallEnded, Reason: call.ReasonDeclined}, callerStatus[1].Payload)

	ended := bob.OfKind(event.KindCallStatus)
	require.Len(t, ended, 1)
	assert.Equal(t, event.CallEnded, ended[0].Payload.(event.CallStatus).Status)
	assert.Equal(t, call.Idle, f.calls.State("c1"))
}

func TestCancelCall(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	f.connect("alice")
	bob := f.connect("bob")

	assert.False(t, f.calls.CancelCall(ctx, "c1", "alice"))

	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	assert.False(t, f.calls.CancelCall(ctx, "c1", "bob"))
	assert.Equal(t, call.Ringing, f.calls.State("c1"))
	assert.Empty(t, bob.OfKind(event.KindCallCanceled))

	assert.True(t, f.calls.CancelCall(ctx, "c1", "alice"))
	assert.Len(t, bob.OfKind(event.KindCallCanceled), 1)
	assert.Equal(t, call.Idle, f.calls.State("c1"))
}

func TestRingTimeout(t *testing.T) {
	f := newFixture(20 * time.Millisecond)
	alice := f.connect("alice")
	bob := f.connect("bob")
	require.NoError(t, f.calls.RequestCall(context.Background(), "c1", "alice"))

	require.Eventually(t, func() bool { return f.calls.State("c1") == call.Idle }, time.Second, 5*time.Millisecond)

	last := func(s *chattest.Session) string {
		got := s.OfKind(event.KindCallStatus)
		if len(got) == 0 {
			return ""
		}
		return got[len(got)-1].Payload.(event.CallStatus).Status
	}
	assert.Equal(t, event.CallTimeout, last(alice))
	assert.Equal(t, event.CallTimeout, last(bob))
}

func TestPeerGoneWhileRinging(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	alice := f.connect("alice")
	f.connect("bob")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))

	f.calls.OnPeerGone("bob")
	assert.Equal(t, call.Idle, f.calls.State("c1"))
	ends := alice.OfKind(event.KindCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, call.ReasonPeerDisconnected, ends[0].Payload.(event.CallEnd).Reason)
	assert.Equal(t, "bob", ends[0].Payload.(event.CallEnd).PeerID)
}

func TestPeerGoneWhileConnected(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	f.connect("alice")
	bob := f.connect("bob")
	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	require.NoError(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Accept))

	f.calls.OnPeerGone("alice")
	assert.Len(t, bob.OfKind(event.KindCallEnd), 1)
	assert.Equal(t, call.Idle, f.calls.State("c1"))
}

func TestHangupAndSignal(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	alice := f.connect("alice")
	bob := f.connect("bob")
	sdp := json.RawMessage(`{"sdp":"offer"}`)

	assert.ErrorIs(t, f.calls.Signal(ctx, "c1", "alice", sdp), chat.ErrNoActiveCall)

	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	require.NoError(t, f.calls.Signal(ctx, "c1", "alice", sdp))
	require.NoError(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Accept))
	require.NoError(t, f.calls.Signal(ctx, "c1", "bob", json.RawMessage(`{"sdp":"answer"}`)))
	assert.ErrorIs(t, f.calls.Signal(ctx, "c1", "mallory", sdp), chat.ErrNoActiveCall)

	toBob := bob.OfKind(event.KindCallSignal)
	require.Len(t, toBob, 1)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(toBob[0].Payload.(event.CallSignal).Data))
	assert.Len(t, alice.OfKind(event.KindCallSignal), 1)

	require.NoError(t, f.calls.Hangup(ctx, "c1", "bob"))
	ends := alice.OfKind(event.KindCallEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, call.ReasonHangup, ends[0].Payload.(event.CallEnd).Reason)
	assert.ErrorIs(t, f.calls.Hangup(ctx, "c1", "bob"), chat.ErrNoActiveCall)
}

func TestTransitionsPublished(t *testing.T) {
	f := newFixture(time.Minute)
	ch, unsub := f.bus.Subscribe("call.", 8)
	defer unsub()
	ctx := context.Background()
	f.connect("alice")
	f.connect("bob")

	require.NoError(t, f.calls.RequestCall(ctx, "c1", "alice"))
	require.NoError(t, f.calls.AnswerCall(ctx, "c1", "bob", call.Accept))
	require.NoError(t, f.calls.Hangup(ctx, "c1", "alice"))

	var got []call.State
	for len(ch) > 0 {
		got = append(got, (<-ch).Payload.(call.StateChange).To)
	}
	assert.Equal(t, []call.State{call.Ringing, call.Connected, call.Ended}, got)
}
