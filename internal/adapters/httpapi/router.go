// Package httpapi wires the HTTP surface: static UI, meetings REST and
// the signaling WebSocket endpoint.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hudl-live/huddle/internal/adapters/signalws"
	"github.com/hudl-live/huddle/internal/app"
	"github.com/hudl-live/huddle/internal/config"
	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/meetings"
)

// ClientTokenMiddleware gives every browser a stable opaque token. It is
// only used for logging correlation; signaling identity is assigned per
// transport session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *app.Registry, store *meetings.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", sessStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	log.Info().Str("module", "httpapi").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// POST /api/meetings — allocate a shareable meeting code. The code is
	// usable even when the cache is down; rooms materialize on first join.
	api.POST("/meetings", func(c *gin.Context) {
		var req struct {
			Title string `json:"title"`
		}
		_ = c.BindJSON(&req)

		if store == nil {
			c.JSON(http.StatusOK, gin.H{"code": domain.NewMeetingCode(), "title": req.Title})
			return
		}
		m, err := store.Create(c.Request.Context(), req.Title)
		if err != nil {
			log.Error().Err(err).Str("module", "httpapi").Msg("create meeting")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create meeting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": m.Code, "title": m.Title})
	})

	// GET /api/meetings/:code — meeting info for the prejoin screen.
	api.GET("/meetings/:code", func(c *gin.Context) {
		code := domain.NormalizeCode(c.Param("code"))
		if !domain.ValidMeetingCode(code) {
			c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
			return
		}
		if store == nil {
			c.JSON(http.StatusOK, gin.H{"code": code})
			return
		}
		m, err := store.Get(c.Request.Context(), code)
		if errors.Is(err, meetings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": m.Code, "title": m.Title})
	})

	// GET /api/rooms/:code/participants — live snapshot, insertion order.
	api.GET("/rooms/:code/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"participants": reg.Participants(c.Param("code"))})
	})

	ctl := signalws.NewController(reg, cfg)
	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	return r
}
