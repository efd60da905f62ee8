package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
)

// Directory is the bidirectional number <-> client binding. At most one
// client per number and one number per client at any moment; both maps are
// mutated together under one lock so the pair can never diverge.
type Directory struct {
	clients *Registry

	mu       sync.RWMutex
	byNumber map[domain.Number]domain.ClientID
	byClient map[domain.ClientID]domain.Number
}

func NewDirectory(clients *Registry) *Directory {
	return &Directory{
		clients:  clients,
		byNumber: make(map[domain.Number]domain.ClientID),
		byClient: make(map[domain.ClientID]domain.Number),
	}
}

// Bind claims a number for a client. Re-binding the same pair is idempotent;
// a client signing in again under a new number releases its old one.
func (d *Directory) Bind(id domain.ClientID, number domain.Number) error {
	if !number.Valid() {
		return domain.ErrMalformedMessage
	}
	if !d.clients.Lookup(id) {
		return domain.ErrClientNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if owner, ok := d.byNumber[number]; ok {
		if owner == id {
			return nil
		}
		return domain.ErrNumberTaken
	}
	if old, ok := d.byClient[id]; ok {
		delete(d.byNumber, old)
	}
	d.byNumber[number] = id
	d.byClient[id] = number
	log.Info().Str("module", "app.directory").Str("client", string(id)).Str("number", string(number)).Msg("number bound")
	return nil
}

func (d *Directory) Resolve(number domain.Number) (domain.ClientID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byNumber[number]
	return id, ok
}

func (d *Directory) NumberOf(id domain.ClientID) (domain.Number, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.byClient[id]
	return n, ok
}

// Unbind releases whatever number the client owns. Idempotent; the
// disconnect cascade may hit it more than once.
func (d *Directory) Unbind(id domain.ClientID) {
	d.mu.Lock()
	number, ok := d.byClient[id]
	if ok {
		delete(d.byNumber, number)
		delete(d.byClient, id)
	}
	d.mu.Unlock()
	if ok {
		log.Info().Str("module", "app.directory").Str("client", string(id)).Str("number", string(number)).Msg("number unbound")
	}
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byNumber)
}
