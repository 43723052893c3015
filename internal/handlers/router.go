package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"game-lobby-backend/internal/middleware"
	"game-lobby-backend/internal/services"
)

type Router struct {
	Games     *GameHandler
	Sessions  *SessionHandler
	Users     *UserHandler
	WebSocket *WebSocketHandler
	Health    *HealthHandler

	JWT             *services.JWTService
	Redis           *services.RedisService
	LaunchRateLimit int
	Logger          *slog.Logger
}

func corsMiddleware(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

func (r *Router) Engine() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), corsMiddleware)

	if r.Health != nil {
		router.GET("/healthz", r.Health.Healthz)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(r.JWT))
	protected.Use(middleware.RateLimitMiddleware(r.Redis, r.LaunchRateLimit, r.Logger))
	{
		protected.GET("/me", r.Users.GetCurrentUser)
		protected.GET("/wallet/balance", r.Users.GetBalance)
		protected.GET("/wallet/transactions", r.Users.GetTransactions)

		if r.WebSocket != nil {
			protected.GET("/ws", r.WebSocket.HandleWebSocket)
		}

		games := protected.Group("/games")
		{
			games.GET("", r.Games.ListGames)
			games.POST("/:id/launch", r.Games.LaunchGame)
		}

		sessions := protected.Group("/sessions")
		{
			sessions.GET("/active", r.Sessions.GetActiveSession)
			sessions.GET("/history", r.Sessions.GetHistory)
			sessions.POST("/reconcile", r.Sessions.Reconcile)
			sessions.POST("/:id/surface", r.Sessions.ReportSurface)
			sessions.POST("/:id/closed", r.Sessions.SurfaceClosed)
			sessions.POST("/:id/heartbeat", r.Sessions.Heartbeat)
			sessions.POST("/:id/end", r.Sessions.EndSession)
		}

		visibility := protected.Group("/visibility")
		{
			visibility.GET("/games/:id", r.Games.GetGameVisibility)
			visibility.GET("/providers/:tag/:id", r.Games.GetProviderVisibility)
			visibility.GET("/groups/:id", r.Games.GetGroupVisibility)
		}
	}

	return router
}
