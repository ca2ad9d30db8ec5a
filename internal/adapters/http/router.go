package http

import (
	"context"
	"net/http"

	"github.com/dkeye/mediacore/internal/adapters/signal"
	"github.com/dkeye/mediacore/internal/app/orch"
	"github.com/dkeye/mediacore/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenCookie = "ct"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable client token; it becomes
// the session id of its transport session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if _, err := uuid.Parse(token); err != nil {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type sessionInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Room     string   `json:"room,omitempty"`
	State    string   `json:"state"`
	Bitrate  int      `json:"bitrate,omitempty"`
	Tracks   int      `json:"tracks"`
	Remote   int      `json:"remote_tracks"`
	Channels []string `json:"channels,omitempty"`
}

func listSessions(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		members := o.Registry.Snapshot()
		out := make([]sessionInfo, 0, len(members))
		for _, m := range members {
			info := sessionInfo{
				ID:    string(m.SID),
				Name:  m.Peer.Name,
				Room:  string(m.Room),
				State: "signaling",
			}
			if m.Session != nil {
				info.State = m.Session.State().String()
				info.Bitrate = m.Session.Bitrate().Target()
				info.Tracks = len(m.Session.Tracks())
				info.Remote = len(m.Session.RemoteTracks())
				info.Channels = m.Session.DataChannels().Labels()
			}
			out = append(out, info)
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
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
	r.Use(sessions.Sessions("MediaCoreSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	limiter := signal.NewRoomRateLimiter(cfg.JoinLimit, cfg.JoinInterval)
	ctrl := signal.NewSignalWSController(o, limiter, cfg.ReadLimit, cfg.PingPeriod)

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/sessions", listSessions(o))
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
