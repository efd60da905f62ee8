package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
)

// CallStore owns every call record. A single mutex serializes creation and
// transitions: the busy check and the insert happen under one lock, so two
// racing "call" requests can never produce two live calls for one number.
// Terminal calls are removed immediately; a stale session id looks exactly
// like one that never existed.
type CallStore struct {
	dir         *Directory
	ringTimeout time.Duration
	onExpire    func(domain.Call)

	mu     sync.Mutex
	calls  map[domain.SessionID]*domain.Call
	timers map[domain.SessionID]*time.Timer
}

func NewCallStore(dir *Directory) *CallStore {
	return &CallStore{
		dir:    dir,
		calls:  make(map[domain.SessionID]*domain.Call),
		timers: make(map[domain.SessionID]*time.Timer),
	}
}

// SetRingTimeout enables expiry of calls that are never answered. Zero keeps
// unanswered calls alive until hangup or disconnect. onExpire runs outside
// the store lock with a copy of the already-terminated call.
func (s *CallStore) SetRingTimeout(d time.Duration, onExpire func(domain.Call)) {
	s.ringTimeout = d
	s.onExpire = onExpire
}

// Create starts a call in the requested state. The router promotes it to
// ringing once the callee has actually been notified.
func (s *CallStore) Create(caller, callee domain.Number) (domain.SessionID, error) {
	if _, ok := s.dir.Resolve(callee); !ok {
		return "", domain.ErrUnknownNumber
	}
	if caller == callee {
		return "", domain.ErrPartyBusy
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.HasParty(caller) || c.HasParty(callee) {
			return "", domain.ErrPartyBusy
		}
	}

	call := domain.NewCall(caller, callee)
	s.calls[call.ID] = call
	if s.ringTimeout > 0 {
		id := call.ID
		s.timers[id] = time.AfterFunc(s.ringTimeout, func() { s.expire(id) })
	}
	log.Info().Str("module", "app.calls").Str("session", string(call.ID)).Str("caller", string(caller)).Str("callee", string(callee)).Msg("call created")
	return call.ID, nil
}

// Transition applies one event. A terminal outcome removes the record, so
// every later reference to the id fails with ErrSessionNotFound.
func (s *CallStore) Transition(id domain.SessionID, ev domain.CallEvent) (domain.CallState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	next, ok := c.State.Next(ev)
	if !ok {
		return c.State, domain.ErrInvalidTransition
	}
	c.State = next
	log.Info().Str("module", "app.calls").Str("session", string(id)).Str("event", string(ev)).Str("state", string(next)).Msg("call transition")

	if ev != domain.EventRing {
		s.stopTimerLocked(id)
	}
	if next.Terminal() {
		delete(s.calls, id)
	}
	return next, nil
}

func (s *CallStore) Parties(id domain.SessionID) (caller, callee domain.Number, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return "", "", false
	}
	return c.Caller, c.Callee, true
}

func (s *CallStore) Get(id domain.SessionID) (domain.Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return domain.Call{}, false
	}
	return *c, true
}

// TerminateAllFor ends every live call the number participates in and
// returns copies of the terminated records so the router can notify
// counterparties. Idempotent: a number with no live calls yields nil.
func (s *CallStore) TerminateAllFor(number domain.Number) []domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ended []domain.Call
	for id, c := range s.calls {
		if !c.HasParty(number) {
			continue
		}
		c.State = domain.StateTerminated
		ended = append(ended, *c)
		s.stopTimerLocked(id)
		delete(s.calls, id)
		log.Info().Str("module", "app.calls").Str("session", string(id)).Str("number", string(number)).Msg("call terminated")
	}
	return ended
}

func (s *CallStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *CallStore) stopTimerLocked(id domain.SessionID) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// expire fires from the ring timer: a call still unanswered is terminated.
// Racing against accept/hangup is fine, the state check under the lock
// decides exactly one winner.
func (s *CallStore) expire(id domain.SessionID) {
	s.mu.Lock()
	c, ok := s.calls[id]
	if !ok || (c.State != domain.StateRequested && c.State != domain.StateRinging) {
		s.mu.Unlock()
		return
	}
	c.State = domain.StateTerminated
	ended := *c
	delete(s.calls, id)
	delete(s.timers, id)
	s.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("session", string(id)).Msg("ringing call expired")
	if s.onExpire != nil {
		s.onExpire(ended)
	}
}
