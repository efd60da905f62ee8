package core

import "encoding/json"

// Frame is a raw serialized payload written to a client's push stream.
type Frame []byte

// PushConnection abstracts the long-lived server-to-client stream.
// Owned by the adapter; the adapter must Close() it. TrySend must never
// block: a full buffer is reported, not waited out, so one slow client
// cannot stall routing for anyone else.
type PushConnection interface {
	TrySend(Frame) error
	Close()
}

// Envelope is the wire unit in both directions: inbound control messages
// and outbound pushes. Data stays opaque until a handler decodes it.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(typ string, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}
