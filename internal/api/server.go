package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eatcast/eatcast/pkg/logger"
)

// NewServer creates the control API server with all routes configured.
// When accessKey is empty the API runs unauthenticated (local development).
func NewServer(handler *Handler, accessKey string, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(log.WithComponent("http")))
	r.Use(gin.Recovery())

	// CORS for the admin dashboard
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.GET("/health", handler.HealthCheck)

	api := r.Group("/api")
	if accessKey != "" {
		api.Use(authMiddleware(accessKey))
	}
	{
		api.GET("/overview", handler.GetOverview)

		api.GET("/queue", handler.ListQueue)
		api.POST("/queue", handler.SubmitVideo)
		api.GET("/queue/:id", handler.GetItem)
		api.POST("/queue/:id/retry", handler.RetryItem)
		api.POST("/queue/:id/skip", handler.SkipItem)
		api.POST("/queue/:id/prioritize", handler.PrioritizeItem)
		api.DELETE("/queue/:id", handler.RemoveItem)

		api.GET("/history", handler.ListHistory)

		api.GET("/subscriptions", handler.ListSubscriptions)
		api.POST("/subscriptions", handler.CreateSubscription)
		api.POST("/subscriptions/:id/pause", handler.PauseSubscription)
		api.POST("/subscriptions/:id/resume", handler.ResumeSubscription)
		api.POST("/subscriptions/:id/check", handler.CheckSubscription)
		api.DELETE("/subscriptions/:id", handler.DeleteSubscription)
	}

	return r
}

// requestLogger logs each request through the application logger
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

// authMiddleware guards the API with a shared key
func authMiddleware(accessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		// Also check Authorization header with Bearer prefix
		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey != accessKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
