package router

import (
	"net/http"
	"slices"
	"strings"

	"persona-ritual/backend/internal/api"
	"persona-ritual/backend/internal/ws"
	"persona-ritual/backend/pkg/config"
	"persona-ritual/backend/pkg/di"
	"persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService, r.Logger)

	globalLimit := middleware.NewRateLimiter(r.Logger, middleware.RateLimiterOptions{
		Name:    "global",
		Limit:   rate.Limit(r.Config.Security.RateLimit),
		Burst:   r.Config.Security.RateLimitBurst,
		KeyFunc: middleware.ClientIPKey,
	})
	submitLimit := middleware.NewRateLimiter(r.Logger, middleware.RateLimiterOptions{
		Name:    "submissions",
		Limit:   rate.Limit(r.Config.Security.SubmissionRateLimit),
		Burst:   r.Config.Security.SubmissionRateBurst,
		KeyFunc: middleware.SubmissionKey,
	})

	// Operational routes stay outside rate limiting and validation
	r.Engine.GET("/health", gin.WrapF(c.Health.HTTPHandler()))
	if c.MetricsHandler != nil {
		r.Engine.GET("/metrics", gin.WrapH(c.MetricsHandler))
	}
	r.Engine.GET("/api/docs/openapi.yaml", func(ctx *gin.Context) {
		ctx.Data(http.StatusOK, "application/yaml", c.Validator.Schema())
	})

	v1 := r.Engine.Group("/api/v1")
	v1.Use(globalLimit.Middleware())
	v1.Use(c.Validator.Middleware())

	api.NewSurveyHandler(c.SurveyService, r.Logger).RegisterRoutesV1(v1, jwtAuth, submitLimit.Middleware())
	api.NewPersonaHandler(c.SynthesisService, r.Logger).RegisterRoutesV1(v1, jwtAuth)
	api.NewChatHandler(c.ChatService, r.Logger).RegisterRoutesV1(v1, jwtAuth)

	// Realtime chat; authentication happens inside the socket with chat:auth
	wsHandler := ws.NewHandler(c.Hub, c.Relay, r.Config.Security.AllowedOrigins, r.Logger)
	r.Engine.GET("/ws/chat", globalLimit.Middleware(), wsHandler.ServeWs)
}

// corsMiddleware allows the configured origins, including the WebSocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case origin == "" || wildcard:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case slices.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Content-Length", "Accept", "Accept-Encoding", "Authorization",
			"Origin", "Upgrade", "Connection", "Cache-Control", "X-Request-ID",
		}, ", "))
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bodyLimit caps request bodies at limit bytes
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
