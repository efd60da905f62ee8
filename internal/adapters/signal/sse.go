package signal

import (
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
)

// sseConn is the push side of the SSE transport. Same shape as the ws
// variant: buffered channel, non-blocking TrySend, idempotent Close.
type sseConn struct {
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *sseConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *sseConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// HandleStream is GET /sse: registers the client, emits the connect frame
// and then drains the push channel into the response as newline-delimited
// JSON until the client goes away. The handler goroutine is the write pump;
// its exit runs the disconnect cascade.
func (ctl *Controller) HandleStream(c *gin.Context) {
	conn := &sseConn{send: make(chan core.Frame, ctl.SendBuffer)}
	id := ctl.Orch.Clients.Register(conn)
	log.Info().Str("module", "signal").Str("client", string(id)).Msg("new SSE stream")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()

	env, err := core.NewEnvelope(core.TypeConnect, core.ConnectData{ID: id})
	if err == nil {
		err = ctl.Orch.Clients.Send(id, env)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("client", string(id)).Msg("connect frame")
	}

	defer func() {
		log.Info().Str("module", "signal").Str("client", string(id)).Msg("SSE stream closing")
		ctl.Orch.OnDisconnect(id)
		ctl.Limiter.Forget(id)
		conn.Close()
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-conn.send:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(append(frame, '\n')); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("client", string(id)).Msg("SSE write error")
				return
			}
			c.Writer.Flush()
		}
	}
}
