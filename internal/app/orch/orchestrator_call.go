package orch

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

var errNotSignedIn = errors.New("sign in before calling")
var errNotCallee = errors.New("only the callee may answer a call")
var errNotParty = errors.New("not a party of this session")

// StartCall creates a call towards the callee's number. The callee gets an
// onCall push; the caller gets the session id, or a failed callResult when
// the callee is unknown or either side is busy.
func (o *Orchestrator) StartCall(from domain.ClientID, callee domain.Number) error {
	caller, ok := o.Directory.NumberOf(from)
	if !ok {
		o.push(from, core.TypeCallResult, core.CallResultData{Success: false, Message: errNotSignedIn.Error()})
		return errNotSignedIn
	}

	sid, err := o.Calls.Create(caller, callee)
	if err != nil {
		o.push(from, core.TypeCallResult, core.CallResultData{Success: false, Message: err.Error()})
		return err
	}

	if !o.pushToNumber(callee, core.TypeOnCall, core.OnCallData{SessionID: sid, From: caller}) {
		// Callee vanished between the busy check and the notify. Treat like
		// an unknown number and fold the half-made call.
		o.Calls.TerminateAllFor(caller)
		o.push(from, core.TypeCallResult, core.CallResultData{Success: false, Message: domain.ErrUnknownNumber.Error()})
		return domain.ErrUnknownNumber
	}

	if _, err := o.Calls.Transition(sid, domain.EventRing); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("session", string(sid)).Msg("ring transition lost")
	}
	o.push(from, core.TypeSession, core.SessionData{SessionID: sid})
	return nil
}

// CallAction is the callee's accept or reject while the call is ringing.
func (o *Orchestrator) CallAction(from domain.ClientID, sid domain.SessionID, accept bool) error {
	caller, callee, ok := o.Calls.Parties(sid)
	if !ok {
		o.pushError(from, domain.ErrSessionNotFound)
		return domain.ErrSessionNotFound
	}
	if n, ok := o.Directory.NumberOf(from); !ok || n != callee {
		o.pushError(from, errNotCallee)
		return errNotCallee
	}

	ev := domain.EventReject
	if accept {
		ev = domain.EventAccept
	}
	if _, err := o.Calls.Transition(sid, ev); err != nil {
		o.pushError(from, err)
		return err
	}
	o.pushToNumber(caller, core.TypeCallResult, core.CallResultData{Success: accept})
	return nil
}

var relayRoutes = map[string]struct {
	event domain.CallEvent
	out   string
}{
	core.TypeOffer:     {domain.EventOffer, core.TypeRemoteOffer},
	core.TypeAnswer:    {domain.EventAnswer, core.TypeRemoteAnswer},
	core.TypeCandidate: {domain.EventCandidate, core.TypeRemoteCandidate},
}

// Relay forwards an opaque negotiation payload to the other party of the
// session. The payload is never inspected; only the session state and the
// sender's membership are checked, and an illegal state produces no push
// to anyone but the sender.
func (o *Orchestrator) Relay(from domain.ClientID, sid domain.SessionID, kind string, payload json.RawMessage) error {
	route, ok := relayRoutes[kind]
	if !ok {
		o.pushError(from, domain.ErrMalformedMessage)
		return domain.ErrMalformedMessage
	}

	caller, callee, ok := o.Calls.Parties(sid)
	if !ok {
		o.pushError(from, domain.ErrSessionNotFound)
		return domain.ErrSessionNotFound
	}

	n, ok := o.Directory.NumberOf(from)
	if !ok || (n != caller && n != callee) {
		o.pushError(from, errNotParty)
		return errNotParty
	}
	peer := caller
	if n == caller {
		peer = callee
	}

	if _, err := o.Calls.Transition(sid, route.event); err != nil {
		o.pushError(from, err)
		return err
	}
	o.pushToNumber(peer, route.out, payload)
	return nil
}

// Hangup ends one session when a hint is given, or every session the sender
// participates in otherwise. Counterparties get a best-effort notify.
func (o *Orchestrator) Hangup(from domain.ClientID, sid domain.SessionID) error {
	n, signedIn := o.Directory.NumberOf(from)

	if sid == "" {
		if signedIn {
			o.endAllFor(n, "hangup")
		}
		return nil
	}

	caller, callee, ok := o.Calls.Parties(sid)
	if !ok {
		o.pushError(from, domain.ErrSessionNotFound)
		return domain.ErrSessionNotFound
	}
	if !signedIn || (n != caller && n != callee) {
		o.pushError(from, errNotParty)
		return errNotParty
	}

	if _, err := o.Calls.Transition(sid, domain.EventHangup); err != nil {
		o.pushError(from, err)
		return err
	}
	peer := caller
	if n == caller {
		peer = callee
	}
	o.pushToNumber(peer, core.TypeSession, core.SessionData{
		SessionID: sid,
		State:     domain.StateTerminated,
		Reason:    "hangup",
	})
	return nil
}
