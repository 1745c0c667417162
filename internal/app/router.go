// internal/app/router.go
package app

import (
	"context"
	"net/http"

	"defiers-auth/internal/config"
	"defiers-auth/internal/domain/auth"
	authHandler "defiers-auth/internal/handlers/auth"
	wsHandler "defiers-auth/internal/handlers/websocket"
	"defiers-auth/internal/metrics"
	"defiers-auth/internal/middleware"
	"defiers-auth/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	AuthHandler    *authHandler.AuthHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
	Metrics        *metrics.Metrics

	// Health checks backing services; nil means always healthy.
	Health func(ctx context.Context) error
}

// globalMiddleware wraps recovery inside the access log, so recovered panics still get an access line.
func globalMiddleware(logger *zap.Logger, origins []string) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		middleware.LoggingMiddleware(logger),
		middleware.RecoveryMiddleware(logger),
		middleware.CORSMiddleware(origins),
	}
}

func SetupRouter(r *gin.Engine, cfg *config.AppConfig, h *Handlers) {
	// ==================== Health Check ====================
	r.GET("/health", func(c *gin.Context) {
		res := auth.HealthResponse{
			Status:      "ok",
			Version:     cfg.AppVersion,
			Environment: cfg.Env,
		}
		if h.Health != nil {
			if err := h.Health(c.Request.Context()); err != nil {
				res.Status = "degraded"
				c.JSON(http.StatusServiceUnavailable, res)
				return
			}
		}
		c.JSON(http.StatusOK, res)
	})

	// ==================== Metrics ====================
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Authenticated Auth Routes ====================
	authProtected := r.Group("/api/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		authProtected.GET("/me", h.AuthHandler.GetMe)
		authProtected.GET("/sessions", h.AuthHandler.ListSessions)
		authProtected.GET("/sessions/history", h.AuthHandler.SessionHistory)
		authProtected.POST("/sessions/:session_id/revoke", h.AuthHandler.RevokeSession)
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.POST("/logout-all", h.AuthHandler.LogoutAll)
		authProtected.GET("/ws/stats", h.WSHandler.GetStats)
	}

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, "route not found", nil)
	})
}
