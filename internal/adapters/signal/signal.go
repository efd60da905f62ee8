// Package signal adapts the relay protocol onto concrete transports: an
// SSE push stream paired with a POST control endpoint (the reference client
// shape), and a bidirectional WebSocket variant carrying the same envelopes.
package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/config"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")
var errRateLimited = errors.New("too many requests")

type Controller struct {
	Orch       *orch.Orchestrator
	Limiter    *RateLimiter
	SendBuffer int
	PingPeriod time.Duration
}

func NewController(o *orch.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch:       o,
		Limiter:    NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
		SendBuffer: cfg.SendBuffer,
		PingPeriod: cfg.PingPeriod,
	}
}

// HandleMessage is the POST /message control endpoint:
// body {type, data}, clientId and optional sessionId in the query.
// 422 marks an unknown client, distinguishable from the 404 of unrelated
// routes; protocol-level failures still arrive as envelopes on the stream.
func (ctl *Controller) HandleMessage(c *gin.Context) {
	id := domain.ClientID(c.Query("clientId"))
	if id == "" || !ctl.Orch.Clients.Lookup(id) {
		c.String(http.StatusUnprocessableEntity, "client %q is not connected", string(id))
		return
	}
	if !ctl.Limiter.Allow(id) {
		ctl.pushError(id, errRateLimited)
		c.Status(http.StatusTooManyRequests)
		return
	}

	var env core.Envelope
	if err := c.ShouldBindJSON(&env); err != nil || env.Type == "" {
		c.String(http.StatusBadRequest, domain.ErrMalformedMessage.Error())
		return
	}

	ctl.dispatch(id, domain.SessionID(c.Query("sessionId")), env.Type, env.Data)
	c.Status(http.StatusNoContent)
}

// dispatch fans a control message out by type. Handlers never fail the
// transport: every protocol error becomes a push back to the sender.
func (ctl *Controller) dispatch(from domain.ClientID, sid domain.SessionID, typ string, data json.RawMessage) {
	switch typ {
	case core.TypeSignIn, core.TypeRegister:
		var p core.SignInData
		if err := json.Unmarshal(data, &p); err != nil || p.Number == "" {
			ctl.pushError(from, domain.ErrMalformedMessage)
			return
		}
		_ = ctl.Orch.SignIn(from, p.Number)

	case core.TypeCall:
		var p core.CallData
		if err := json.Unmarshal(data, &p); err != nil || p.Number == "" {
			ctl.pushError(from, domain.ErrMalformedMessage)
			return
		}
		_ = ctl.Orch.StartCall(from, p.Number)

	case core.TypeCallAction, core.TypeOnCallAction:
		var p core.CallActionData
		if err := json.Unmarshal(data, &p); err != nil {
			ctl.pushError(from, domain.ErrMalformedMessage)
			return
		}
		_ = ctl.Orch.CallAction(from, sid, p.Accept)

	case core.TypeOffer, core.TypeAnswer, core.TypeCandidate:
		_ = ctl.Orch.Relay(from, sid, typ, data)

	case core.TypeHangup:
		_ = ctl.Orch.Hangup(from, sid)

	default:
		log.Warn().Str("module", "signal").Str("client", string(from)).Str("type", typ).Msg("unknown message type")
		ctl.pushError(from, errors.New("unknown event type: "+typ))
	}
}

func (ctl *Controller) pushError(to domain.ClientID, err error) {
	env, merr := core.NewEnvelope(core.TypeError, core.ErrorData{Message: err.Error()})
	if merr != nil {
		return
	}
	_ = ctl.Orch.Clients.Send(to, env)
}
