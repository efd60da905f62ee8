// Package domain contains entity without logic, just meta-data
package domain

import "github.com/google/uuid"

const MaxNumberLen = 36

// ClientID identifies one live connection. It is allocated when the push
// stream opens and is never reused while the connection lives; a reconnect
// gets a fresh one.
type ClientID string

func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// Number is the public identifier a client signs in with (a phone number in
// the reference UI). It addresses a peer independently of its ClientID.
type Number string

func (n Number) Valid() bool {
	return len(n) > 0 && len(n) <= MaxNumberLen
}
