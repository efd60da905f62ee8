package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallStateTransitions(t *testing.T) {
	cases := []struct {
		name  string
		state CallState
		event CallEvent
		next  CallState
		ok    bool
	}{
		{"ring from requested", StateRequested, EventRing, StateRinging, true},
		{"accept while ringing", StateRinging, EventAccept, StateAccepted, true},
		{"reject while ringing", StateRinging, EventReject, StateRejected, true},
		{"offer while ringing is illegal", StateRinging, EventOffer, "", false},
		{"answer while ringing is illegal", StateRinging, EventAnswer, "", false},
		{"offer after accept starts negotiation", StateAccepted, EventOffer, StateNegotiating, true},
		{"candidate after accept starts negotiation", StateAccepted, EventCandidate, StateNegotiating, true},
		{"answer completes the exchange", StateNegotiating, EventAnswer, StateActive, true},
		{"offer while negotiating stays negotiating", StateNegotiating, EventOffer, StateNegotiating, true},
		{"candidate while active stays active", StateActive, EventCandidate, StateActive, true},
		{"hangup from ringing", StateRinging, EventHangup, StateTerminated, true},
		{"hangup from active", StateActive, EventHangup, StateTerminated, true},
		{"accept from requested is illegal", StateRequested, EventAccept, "", false},
		{"nothing leaves terminated", StateTerminated, EventOffer, "", false},
		{"nothing leaves rejected", StateRejected, EventAccept, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := tc.state.Next(tc.event)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.next, next)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	require.True(t, StateRejected.Terminal())
	require.True(t, StateTerminated.Terminal())
	for _, s := range []CallState{StateRequested, StateRinging, StateAccepted, StateNegotiating, StateActive} {
		require.False(t, s.Terminal(), "state %s", s)
	}
}

func TestCallPeer(t *testing.T) {
	c := NewCall("100", "200")
	require.Equal(t, StateRequested, c.State)
	require.NotEmpty(t, c.ID)

	require.True(t, c.HasParty("100"))
	require.True(t, c.HasParty("200"))
	require.False(t, c.HasParty("300"))

	peer, ok := c.Peer("100")
	require.True(t, ok)
	require.Equal(t, Number("200"), peer)

	peer, ok = c.Peer("200")
	require.True(t, ok)
	require.Equal(t, Number("100"), peer)

	_, ok = c.Peer("300")
	require.False(t, ok)
}
