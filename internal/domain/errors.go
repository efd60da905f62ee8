package domain

import "errors"

// Every error here is recoverable at the request level: a failed control
// message is answered with an error push and never tears down the stream.
var (
	ErrClientNotFound    = errors.New("client not found")
	ErrNumberTaken       = errors.New("the number has been used")
	ErrUnknownNumber     = errors.New("invalid phone number")
	ErrPartyBusy         = errors.New("party is busy")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrMalformedMessage  = errors.New("malformed message")
)
