// Package route assembles the gin engine for mailboxd.
package route

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/rbaliyan/workspace-mailbox/internal/api/http/handler"
	"github.com/rbaliyan/workspace-mailbox/internal/api/http/middleware"
	"github.com/rbaliyan/workspace-mailbox/internal/config"
)

// maxBodyMemory caps multipart parsing; mailbox requests are small JSON.
const maxBodyMemory = 1 << 20

type MailboxHandler interface {
	List(c *gin.Context)
	Delete(c *gin.Context)
	BulkDelete(c *gin.Context)
	Handle(c *gin.Context)
}

type HealthHandler interface {
	Ping(c *gin.Context)
	Health(c *gin.Context)
}

func SetupRouter(
	log *slog.Logger,
	cfg *config.Config,
	tokens middleware.TokenVerifier,
	healthHdl HealthHandler,
	mailboxHdl MailboxHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	router := gin.New()
	router.MaxMultipartMemory = maxBodyMemory

	router.Use(gin.Recovery())
	if cfg.Telemetry.Tracing {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(middleware.RequestTimeout(cfg.HTTPServer.Timeout.Request))

	router.HandleMethodNotAllowed = true
	router.NoMethod(handler.NoMethod)
	router.NoRoute(handler.NoRoute)

	basePath := router.Group(cfg.BasePath)

	RegisterHealth(basePath.Group("/health"), healthHdl)

	mailboxPath := basePath.Group("/w/:workspace_id/mailbox",
		middleware.RateLimit(cfg.HTTPServer.RateLimit),
		middleware.JWTAuth(tokens),
	)
	RegisterMailboxRoutes(mailboxPath, mailboxHdl)

	return router
}

func RegisterHealth(g *gin.RouterGroup, h HealthHandler) {
	g.GET("/ping", h.Ping)
	g.GET("", h.Health)
}

func RegisterMailboxRoutes(g *gin.RouterGroup, h MailboxHandler) {
	g.GET("/list", h.List)
	g.DELETE("/bulk_delete", h.BulkDelete)
	g.DELETE("/:message_id", h.Delete)
	g.POST("/:message_id/handle", h.Handle)
}
