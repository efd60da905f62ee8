package core

import "github.com/dkeye/Dial/internal/domain"

// Envelope type vocabulary. Inbound control types and outbound push types
// share one wire format; "signin" is also accepted as "register" and
// "callAction" as "onCallAction" for older clients.
const (
	TypeConnect         = "connect"
	TypeSignIn          = "signin"
	TypeRegister        = "register"
	TypeSignInResult    = "signinResult"
	TypeCall            = "call"
	TypeOnCall          = "onCall"
	TypeCallAction      = "callAction"
	TypeOnCallAction    = "onCallAction"
	TypeCallResult      = "callResult"
	TypeSession         = "session"
	TypeOffer           = "offer"
	TypeRemoteOffer     = "remoteOffer"
	TypeAnswer          = "answer"
	TypeRemoteAnswer    = "remoteAnswer"
	TypeCandidate       = "candidate"
	TypeRemoteCandidate = "remoteCandidate"
	TypeHangup          = "hangup"
	TypeError           = "error"
)

// ConnectData is the first frame on every fresh push stream.
type ConnectData struct {
	ID domain.ClientID `json:"id"`
}

type SignInData struct {
	Number domain.Number `json:"number"`
}

type SignInResultData struct {
	Success bool          `json:"success"`
	Number  domain.Number `json:"number,omitempty"`
	Message string        `json:"message,omitempty"`
}

type CallData struct {
	Number domain.Number `json:"number"`
}

type OnCallData struct {
	SessionID domain.SessionID `json:"sessionId"`
	From      domain.Number    `json:"from"`
}

type CallActionData struct {
	Accept bool `json:"accept"`
}

type CallResultData struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SessionData acks a created call to the caller and, with a terminal state
// set, tells a party that the call is over (hangup, disconnect, expiry).
type SessionData struct {
	SessionID domain.SessionID `json:"sessionId"`
	State     domain.CallState `json:"state,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}
