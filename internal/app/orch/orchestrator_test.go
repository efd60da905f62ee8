package orch

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) envelopes(t *testing.T) []core.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Envelope, 0, len(f.frames))
	for _, fr := range f.frames {
		var env core.Envelope
		require.NoError(t, json.Unmarshal(fr, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) byType(t *testing.T, typ string) []core.Envelope {
	t.Helper()
	var out []core.Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func newRelay() *Orchestrator {
	clients := app.NewRegistry()
	dir := app.NewDirectory(clients)
	return &Orchestrator{
		Clients:   clients,
		Directory: dir,
		Calls:     app.NewCallStore(dir),
	}
}

// connect registers a fake push stream and signs it in under the number.
func connect(t *testing.T, o *Orchestrator, number domain.Number) (domain.ClientID, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	id := o.Clients.Register(conn)
	require.NoError(t, o.SignIn(id, number))
	results := conn.byType(t, core.TypeSignInResult)
	require.Len(t, results, 1)
	var res core.SignInResultData
	require.NoError(t, json.Unmarshal(results[0].Data, &res))
	require.True(t, res.Success)
	conn.reset()
	return id, conn
}

func decode[T any](t *testing.T, env core.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestSignInUniqueness(t *testing.T) {
	o := newRelay()
	connect(t, o, "100")

	conn := &fakeConn{}
	id := o.Clients.Register(conn)
	err := o.SignIn(id, "100")
	require.ErrorIs(t, err, domain.ErrNumberTaken)

	results := conn.byType(t, core.TypeSignInResult)
	require.Len(t, results, 1)
	res := decode[core.SignInResultData](t, results[0])
	require.False(t, res.Success)
	require.Equal(t, domain.ErrNumberTaken.Error(), res.Message)
}

func TestCallRoutesToCalleeOnly(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	_, conn2 := connect(t, o, "200")
	_, conn3 := connect(t, o, "300")

	require.NoError(t, o.StartCall(id1, "200"))

	onCalls := conn2.byType(t, core.TypeOnCall)
	require.Len(t, onCalls, 1)
	oc := decode[core.OnCallData](t, onCalls[0])
	require.Equal(t, domain.Number("100"), oc.From)
	require.NotEmpty(t, oc.SessionID)

	// nobody else hears the ring
	require.Empty(t, conn3.envelopes(t))
	require.Empty(t, conn1.byType(t, core.TypeOnCall))

	// the caller got the session ack and the call is ringing
	sessions := conn1.byType(t, core.TypeSession)
	require.Len(t, sessions, 1)
	ack := decode[core.SessionData](t, sessions[0])
	require.Equal(t, oc.SessionID, ack.SessionID)

	c, ok := o.Calls.Get(oc.SessionID)
	require.True(t, ok)
	require.Equal(t, domain.StateRinging, c.State)
}

func TestCallUnknownNumber(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")

	err := o.StartCall(id1, "999")
	require.ErrorIs(t, err, domain.ErrUnknownNumber)

	results := conn1.byType(t, core.TypeCallResult)
	require.Len(t, results, 1)
	res := decode[core.CallResultData](t, results[0])
	require.False(t, res.Success)
	require.Equal(t, domain.ErrUnknownNumber.Error(), res.Message)
}

func TestCallWithoutSignIn(t *testing.T) {
	o := newRelay()
	connect(t, o, "200")

	conn := &fakeConn{}
	id := o.Clients.Register(conn)
	require.Error(t, o.StartCall(id, "200"))

	results := conn.byType(t, core.TypeCallResult)
	require.Len(t, results, 1)
	require.False(t, decode[core.CallResultData](t, results[0]).Success)
}

func TestBusyParty(t *testing.T) {
	o := newRelay()
	id1, _ := connect(t, o, "100")
	connect(t, o, "200")
	id3, conn3 := connect(t, o, "300")

	require.NoError(t, o.StartCall(id1, "200"))

	err := o.StartCall(id3, "100")
	require.ErrorIs(t, err, domain.ErrPartyBusy)
	results := conn3.byType(t, core.TypeCallResult)
	require.Len(t, results, 1)
	require.False(t, decode[core.CallResultData](t, results[0]).Success)
}

func TestOfferWhileRingingProducesNoRelay(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	_, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	conn2.reset()

	err := o.Relay(id1, sid, core.TypeOffer, json.RawMessage(`{"offer":"sdp"}`))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.Empty(t, conn2.envelopes(t))
	errs := conn1.byType(t, core.TypeError)
	require.Len(t, errs, 1)
}

func TestRejectTerminatesCall(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	id2, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	conn1.reset()

	require.NoError(t, o.CallAction(id2, sid, false))

	results := conn1.byType(t, core.TypeCallResult)
	require.Len(t, results, 1)
	require.False(t, decode[core.CallResultData](t, results[0]).Success)

	_, ok := o.Calls.Get(sid)
	require.False(t, ok)

	// both parties are free again
	require.NoError(t, o.StartCall(id1, "200"))
}

func TestOnlyCalleeMayAnswer(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	_, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	conn1.reset()

	require.Error(t, o.CallAction(id1, sid, true))
	require.Len(t, conn1.byType(t, core.TypeError), 1)

	c, ok := o.Calls.Get(sid)
	require.True(t, ok)
	require.Equal(t, domain.StateRinging, c.State)
}

func TestRelayFromNonParty(t *testing.T) {
	o := newRelay()
	id1, _ := connect(t, o, "100")
	id2, conn2 := connect(t, o, "200")
	id3, conn3 := connect(t, o, "300")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	require.NoError(t, o.CallAction(id2, sid, true))
	conn2.reset()

	require.Error(t, o.Relay(id3, sid, core.TypeOffer, json.RawMessage(`{"offer":"x"}`)))
	require.Len(t, conn3.byType(t, core.TypeError), 1)
	require.Empty(t, conn2.envelopes(t))
}

// TestEndToEndCallScenario walks the full happy path and the disconnect
// cascade: connect, sign in, call, accept, offer, peer disconnect, late
// answer failing with a stale session.
func TestEndToEndCallScenario(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	id2, conn2 := connect(t, o, "200")

	// call -> callee rings
	require.NoError(t, o.StartCall(id1, "200"))
	onCalls := conn2.byType(t, core.TypeOnCall)
	require.Len(t, onCalls, 1)
	oc := decode[core.OnCallData](t, onCalls[0])
	require.Equal(t, domain.Number("100"), oc.From)
	sid := oc.SessionID

	c, ok := o.Calls.Get(sid)
	require.True(t, ok)
	require.Equal(t, domain.StateRinging, c.State)
	conn1.reset()

	// accept -> caller hears callResult{success:true}
	require.NoError(t, o.CallAction(id2, sid, true))
	results := conn1.byType(t, core.TypeCallResult)
	require.Len(t, results, 1)
	require.True(t, decode[core.CallResultData](t, results[0]).Success)

	c, _ = o.Calls.Get(sid)
	require.Equal(t, domain.StateAccepted, c.State)
	conn2.reset()

	// offer -> callee hears remoteOffer with the payload untouched
	payload := json.RawMessage(`{"offer":{"type":"offer","sdp":"v=0..."}}`)
	require.NoError(t, o.Relay(id1, sid, core.TypeOffer, payload))

	offers := conn2.byType(t, core.TypeRemoteOffer)
	require.Len(t, offers, 1)
	require.JSONEq(t, string(payload), string(offers[0].Data))

	c, _ = o.Calls.Get(sid)
	require.Equal(t, domain.StateNegotiating, c.State)
	conn1.reset()

	// callee disconnects -> session terminated, caller notified
	o.OnDisconnect(id2)
	sessions := conn1.byType(t, core.TypeSession)
	require.Len(t, sessions, 1)
	end := decode[core.SessionData](t, sessions[0])
	require.Equal(t, sid, end.SessionID)
	require.Equal(t, domain.StateTerminated, end.State)

	_, ok = o.Calls.Get(sid)
	require.False(t, ok)
	_, ok = o.Directory.Resolve("200")
	require.False(t, ok)
	require.False(t, o.Clients.Lookup(id2))

	// late answer against the stale session
	conn1.reset()
	err := o.Relay(id1, sid, core.TypeAnswer, json.RawMessage(`{"answer":"sdp"}`))
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Len(t, conn1.byType(t, core.TypeError), 1)
}

func TestAnswerPromotesToActive(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	id2, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	require.NoError(t, o.CallAction(id2, sid, true))

	require.NoError(t, o.Relay(id1, sid, core.TypeOffer, json.RawMessage(`{"offer":"a"}`)))
	require.NoError(t, o.Relay(id2, sid, core.TypeAnswer, json.RawMessage(`{"answer":"b"}`)))

	answers := conn1.byType(t, core.TypeRemoteAnswer)
	require.Len(t, answers, 1)

	c, ok := o.Calls.Get(sid)
	require.True(t, ok)
	require.Equal(t, domain.StateActive, c.State)

	// candidates keep flowing while active
	require.NoError(t, o.Relay(id2, sid, core.TypeCandidate, json.RawMessage(`{"candidate":"c"}`)))
	require.Len(t, conn1.byType(t, core.TypeRemoteCandidate), 1)
}

func TestHangupNotifiesPeer(t *testing.T) {
	o := newRelay()
	id1, _ := connect(t, o, "100")
	id2, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	require.NoError(t, o.CallAction(id2, sid, true))
	conn2.reset()

	require.NoError(t, o.Hangup(id1, sid))

	sessions := conn2.byType(t, core.TypeSession)
	require.Len(t, sessions, 1)
	end := decode[core.SessionData](t, sessions[0])
	require.Equal(t, sid, end.SessionID)
	require.Equal(t, domain.StateTerminated, end.State)
	require.Equal(t, "hangup", end.Reason)

	_, ok := o.Calls.Get(sid)
	require.False(t, ok)
}

func TestDisconnectCascadeIdempotent(t *testing.T) {
	o := newRelay()
	id1, conn1 := connect(t, o, "100")
	id2, _ := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	conn1.reset()

	o.OnDisconnect(id2)
	o.OnDisconnect(id2)

	require.Len(t, conn1.byType(t, core.TypeSession), 1)
	require.False(t, o.Clients.Lookup(id2))
	require.Equal(t, 0, o.Calls.Live())

	// an in-flight push to the vanished client is a quiet no-op
	o.pushToNumber("200", core.TypeOnCall, core.OnCallData{})
	require.ErrorIs(t, o.Clients.Send(id2, core.Envelope{Type: core.TypeOnCall}), domain.ErrClientNotFound)
}

func TestReconnectedCalleeKeepsReceiving(t *testing.T) {
	o := newRelay()
	id1, _ := connect(t, o, "100")
	id2, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	require.NoError(t, o.CallAction(id2, sid, true))

	// the callee's transport flaps without a clean disconnect: it signs in
	// again under a fresh connection id, keeping its number and its call
	fresh := &fakeConn{}
	freshID := o.Clients.Register(fresh)
	o.Directory.Unbind(id2)
	require.NoError(t, o.SignIn(freshID, "200"))
	fresh.reset()

	require.NoError(t, o.Relay(id1, sid, core.TypeOffer, json.RawMessage(`{"offer":"x"}`)))
	require.Len(t, fresh.byType(t, core.TypeRemoteOffer), 1)
	require.Empty(t, conn2.byType(t, core.TypeRemoteOffer))
}

func TestRingExpiryNotifiesBothParties(t *testing.T) {
	o := newRelay()
	o.Calls.SetRingTimeout(20*time.Millisecond, o.OnRingExpired)

	id1, conn1 := connect(t, o, "100")
	_, conn2 := connect(t, o, "200")

	require.NoError(t, o.StartCall(id1, "200"))
	sid := decode[core.OnCallData](t, conn2.byType(t, core.TypeOnCall)[0]).SessionID
	conn1.reset()
	conn2.reset()

	require.Eventually(t, func() bool {
		return len(conn1.byType(t, core.TypeSession)) == 1 && len(conn2.byType(t, core.TypeSession)) == 1
	}, time.Second, 10*time.Millisecond)

	end := decode[core.SessionData](t, conn1.byType(t, core.TypeSession)[0])
	require.Equal(t, sid, end.SessionID)
	require.Equal(t, domain.StateTerminated, end.State)
	require.Equal(t, "no answer", end.Reason)

	_, ok := o.Calls.Get(sid)
	require.False(t, ok)
}
