package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

// Registry tracks every live client and its push connection. It is the only
// place a ClientID maps to a transport; everything above it addresses
// clients by id and lets Send do the resolution.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]core.PushConnection
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.ClientID]core.PushConnection)}
}

// Register allocates a fresh id for the given push connection. The adapter
// keeps ownership of the connection and must Close it on stream teardown.
func (r *Registry) Register(conn core.PushConnection) domain.ClientID {
	id := domain.NewClientID()
	r.mu.Lock()
	r.clients[id] = conn
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("client registered")
	return id
}

// Unregister is idempotent; a second call for the same id is a no-op.
func (r *Registry) Unregister(id domain.ClientID) {
	r.mu.Lock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if ok {
		log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("client unregistered")
	}
}

func (r *Registry) Lookup(id domain.ClientID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Send writes one envelope to the client's stream. ErrClientNotFound is a
// normal outcome here, not a fault: disconnect races with in-flight routing
// are intrinsic to the model, so callers log it and move on. A frame dropped
// on backpressure is reported the same way, never retried.
func (r *Registry) Send(id domain.ClientID, env core.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	r.mu.RLock()
	conn, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrClientNotFound
	}

	if err := conn.TrySend(core.Frame(data)); err != nil {
		log.Warn().Str("module", "app.registry").Str("client", string(id)).Str("type", env.Type).Err(err).Msg("frame dropped")
		return err
	}
	return nil
}
