package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
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

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// wsInbound is the socket variant of a control message: the session id
// rides inside the envelope instead of a query parameter.
type wsInbound struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
}

// HandleSocket is GET /ws: the same protocol as SSE+POST over one
// bidirectional connection. First outbound frame is the connect envelope.
func (ctl *Controller) HandleSocket(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}
	id := ctl.Orch.Clients.Register(conn)
	log.Info().Str("module", "signal").Str("client", string(id)).Msg("new WS connection")

	env, err := core.NewEnvelope(core.TypeConnect, core.ConnectData{ID: id})
	if err == nil {
		err = ctl.Orch.Clients.Send(id, env)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("client", string(id)).Msg("connect frame")
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ClientID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("client", string(id)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(id)
		ctl.Limiter.Forget(id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("client", string(id)).Msg("readPump read error")
				return
			}
			var in wsInbound
			if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
				ctl.pushError(id, domain.ErrMalformedMessage)
				continue
			}
			if !ctl.Limiter.Allow(id) {
				ctl.pushError(id, errRateLimited)
				continue
			}
			ctl.dispatch(id, in.SessionID, in.Type, in.Data)
		}
	}
}
