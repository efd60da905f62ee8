package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/adapters/signal"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags the browser session with a stable cookie token.
// This is not the ClientID: the connection id is allocated per push stream
// and dies with it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("DialSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctl := signal.NewController(o, cfg)

	r.GET("/sse", ctl.HandleStream)
	r.POST("/message", ctl.HandleMessage)
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSocket(ctx, c)
	})

	api := r.Group("/api")

	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceServers(cfg)})
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"clients": o.Clients.Count(),
			"numbers": o.Directory.Count(),
			"calls":   o.Calls.Live(),
		})
	})

	return r
}

// iceServers exposes the STUN/TURN set clients should hand to their
// RTCPeerConnection. The relay itself never touches the negotiation
// payloads these servers end up in.
func iceServers(cfg *config.Config) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, u := range cfg.ICEServers {
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	return out
}
