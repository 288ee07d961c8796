package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/layer-3/powgate/service"
)

// RouterOptions configure SetupRouter
type RouterOptions struct {
	Cookies CookieOptions
	Logger  zerolog.Logger
	Metrics bool // expose /metrics
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(RequestLogger(opts.Logger), gin.Recovery())

	// Create handlers
	handlers := NewAuthHandlers(authService, opts.Cookies)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"healthy": true}})
	})
	if opts.Metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Auth routes
	auth := router.Group("/auth")
	auth.Use(VisitMiddleware(opts.Cookies))
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.GET("/csrf", handlers.CSRF)
		auth.POST("/login", handlers.Login)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService, opts.Cookies))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
