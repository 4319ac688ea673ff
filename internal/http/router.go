package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/config"
	"github.com/saadaziz/identity-backend/internal/http/handler"
	httpmiddleware "github.com/saadaziz/identity-backend/internal/http/middleware"
	"github.com/saadaziz/identity-backend/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	// Probes and discovery stay outside the limiter.
	r.GET("/ping", authHandler.Ping)
	r.GET("/.well-known/openid-configuration", authHandler.OpenIDConfig)

	api := r.Group("/")
	api.Use(rateLimiter.Handler())
	{
		api.GET("/authorize", authHandler.Authorize)
		api.POST("/login", authHandler.Login)
		api.POST("/token", authHandler.Token)
		api.POST("/verify", authHandler.Verify)
		api.GET("/userinfo", authMiddleware.ValidateJWT, authHandler.UserInfo)

		if cfg.DevMode {
			api.GET("/test-token", authHandler.TestToken)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "No such endpoint."})
	})

	return r
}
