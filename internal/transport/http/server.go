package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ndenisov/beamtalk-server/internal/auth"
	"github.com/ndenisov/beamtalk-server/internal/config"
	"github.com/ndenisov/beamtalk-server/internal/core"
	"github.com/ndenisov/beamtalk-server/internal/store"
)

// NewServer builds the HTTP server: REST API plus the realtime websocket.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(authService, st, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)
	router.POST("/api/guest", api.GuestLogin)

	authed := router.Group("/api", AuthMiddleware(authService, logger))
	authed.GET("/users", api.ListUsers)
	authed.GET("/rooms/:room/messages", api.ListMessages)
	authed.POST("/rooms/:room/messages", api.PostMessage)

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, cfg.MessageRateLimit, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
