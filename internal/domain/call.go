package domain

import "github.com/google/uuid"

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

type CallState string

const (
	StateRequested   CallState = "requested"
	StateRinging     CallState = "ringing"
	StateAccepted    CallState = "accepted"
	StateRejected    CallState = "rejected"
	StateNegotiating CallState = "negotiating"
	StateActive      CallState = "active"
	StateTerminated  CallState = "terminated"
)

func (s CallState) Terminal() bool {
	return s == StateRejected || s == StateTerminated
}

type CallEvent string

const (
	EventRing      CallEvent = "ring"
	EventAccept    CallEvent = "accept"
	EventReject    CallEvent = "reject"
	EventOffer     CallEvent = "offer"
	EventAnswer    CallEvent = "answer"
	EventCandidate CallEvent = "candidate"
	EventHangup    CallEvent = "hangup"
)

// transitions is the full legal state machine; event-in-state pairs absent
// here are invalid. The first relayed answer after negotiation started is
// what promotes a call to active.
var transitions = map[CallState]map[CallEvent]CallState{
	StateRequested: {
		EventRing:   StateRinging,
		EventHangup: StateTerminated,
	},
	StateRinging: {
		EventAccept: StateAccepted,
		EventReject: StateRejected,
		EventHangup: StateTerminated,
	},
	StateAccepted: {
		EventOffer:     StateNegotiating,
		EventAnswer:    StateNegotiating,
		EventCandidate: StateNegotiating,
		EventHangup:    StateTerminated,
	},
	StateNegotiating: {
		EventOffer:     StateNegotiating,
		EventAnswer:    StateActive,
		EventCandidate: StateNegotiating,
		EventHangup:    StateTerminated,
	},
	StateActive: {
		EventOffer:     StateActive,
		EventAnswer:    StateActive,
		EventCandidate: StateActive,
		EventHangup:    StateTerminated,
	},
}

// Next returns the state the event leads to, or false when the event is not
// legal in the current state.
func (s CallState) Next(ev CallEvent) (CallState, bool) {
	next, ok := transitions[s][ev]
	return next, ok
}

// Call is a negotiation context between two numbers. The parties are stored
// as numbers, not client ids: a callee that reconnects under a new ClientID
// keeps its place in the call.
type Call struct {
	ID     SessionID
	Caller Number
	Callee Number
	State  CallState
}

func NewCall(caller, callee Number) *Call {
	return &Call{
		ID:     NewSessionID(),
		Caller: caller,
		Callee: callee,
		State:  StateRequested,
	}
}

func (c *Call) HasParty(n Number) bool {
	return c.Caller == n || c.Callee == n
}

// Peer returns the other party of the call.
func (c *Call) Peer(n Number) (Number, bool) {
	switch n {
	case c.Caller:
		return c.Callee, true
	case c.Callee:
		return c.Caller, true
	}
	return "", false
}
