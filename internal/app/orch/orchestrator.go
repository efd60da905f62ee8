// Package orch routes control messages between clients. It validates each
// inbound message against registry, directory and call state, then pushes
// the resulting envelopes to the addressed clients. Targets are always
// re-resolved number -> current ClientID at send time, so a client that
// reconnected under a fresh id still receives its messages.
package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

type Orchestrator struct {
	Clients   *app.Registry
	Directory *app.Directory
	Calls     *app.CallStore
}

// SignIn binds a public number to the requesting client and reports the
// outcome on its own stream.
func (o *Orchestrator) SignIn(from domain.ClientID, number domain.Number) error {
	if err := o.Directory.Bind(from, number); err != nil {
		o.push(from, core.TypeSignInResult, core.SignInResultData{Success: false, Message: err.Error()})
		return err
	}
	o.push(from, core.TypeSignInResult, core.SignInResultData{Success: true, Number: number})
	return nil
}

// OnDisconnect is the cascade for a closed push stream: release the number,
// terminate every call it was part of, tell the counterparties, drop the
// client. Every step is idempotent, so a double disconnect or a disconnect
// racing an in-flight message converges to the same state.
func (o *Orchestrator) OnDisconnect(id domain.ClientID) {
	number, signedIn := o.Directory.NumberOf(id)
	o.Directory.Unbind(id)
	if signedIn {
		o.endAllFor(number, "peer disconnected")
	}
	o.Clients.Unregister(id)
	log.Info().Str("module", "app.orch").Str("client", string(id)).Msg("client disconnected")
}

// OnRingExpired handles a call the ring timer gave up on; both parties get
// to hear that nobody answered.
func (o *Orchestrator) OnRingExpired(c domain.Call) {
	data := core.SessionData{SessionID: c.ID, State: domain.StateTerminated, Reason: "no answer"}
	o.pushToNumber(c.Caller, core.TypeSession, data)
	o.pushToNumber(c.Callee, core.TypeSession, data)
}

func (o *Orchestrator) endAllFor(number domain.Number, reason string) {
	for _, ended := range o.Calls.TerminateAllFor(number) {
		peer, ok := ended.Peer(number)
		if !ok {
			continue
		}
		o.pushToNumber(peer, core.TypeSession, core.SessionData{
			SessionID: ended.ID,
			State:     domain.StateTerminated,
			Reason:    reason,
		})
	}
}

// push delivers one envelope to a client, best effort. An absent or slow
// client is logged and forgotten; routing never blocks or retries.
func (o *Orchestrator) push(to domain.ClientID, typ string, v any) {
	env, err := core.NewEnvelope(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("type", typ).Msg("envelope marshal")
		return
	}
	if err := o.Clients.Send(to, env); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Str("client", string(to)).Str("type", typ).Msg("push not delivered")
	}
}

// pushToNumber resolves the number's current client just before sending.
func (o *Orchestrator) pushToNumber(n domain.Number, typ string, v any) bool {
	id, ok := o.Directory.Resolve(n)
	if !ok {
		log.Debug().Str("module", "app.orch").Str("number", string(n)).Str("type", typ).Msg("number not bound, push skipped")
		return false
	}
	env, err := core.NewEnvelope(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("type", typ).Msg("envelope marshal")
		return false
	}
	if err := o.Clients.Send(id, env); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Str("number", string(n)).Str("type", typ).Msg("push not delivered")
		return false
	}
	return true
}

func (o *Orchestrator) pushError(to domain.ClientID, err error) {
	o.push(to, core.TypeError, core.ErrorData{Message: err.Error()})
}
