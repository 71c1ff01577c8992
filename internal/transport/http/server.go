package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lukassw/canvashub/internal/auth"
	"github.com/lukassw/canvashub/internal/canvas"
	"github.com/lukassw/canvashub/internal/config"
	"github.com/lukassw/canvashub/internal/store"
)

// NewServer builds the HTTP server: REST API for auth and canvas
// management, WebSocket endpoint for live collaboration.
func NewServer(coordinator canvas.Handle, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(authService, st, coordinator, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)

	authed := router.Group("/", AuthMiddleware(authService, logger))
	authed.POST("/api/canvases", api.CreateCanvas)
	authed.GET("/api/canvases", api.ListCanvases)
	authed.POST("/api/canvases/:canvas_id/members", api.SetMemberAccess)
	authed.PUT("/api/canvases/:canvas_id/mode", api.SetCanvasMode)

	ws := NewWSHandler(coordinator, cfg.HeartbeatInterval, cfg.ClientTimeout, logger)
	authed.GET("/ws/:canvas_id", ws.Serve)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
