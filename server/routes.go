package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers the chat API. rateLimit may be nil when Redis is not configured.
func (s *Server) SetupRoutes(authMiddleware, adminMiddleware, rateLimit echo.MiddlewareFunc) {
	e := s.Echo
	e.GET("/health", s.HealthHandler.Health)
	e.GET("/ready", s.HealthHandler.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	chat := api.Group("/chat")

	// Browsers cannot set headers on an upgrade, so the token usually arrives as ?token=.
	chat.GET("/ws", s.ChatWebSocketHandler.HandleWebSocket, authMiddleware)

	protected := chat.Group("", authMiddleware)
	if rateLimit != nil {
		protected.Use(rateLimit)
	}
	{
		protected.POST("/rooms", s.RoomHandler.CreateOrGetRoom)
		protected.GET("/rooms/:id", s.RoomHandler.GetRoom)
		protected.GET("/rooms/:id/messages", s.RoomHandler.GetMessages)
		protected.POST("/rooms/:id/messages", s.RoomHandler.PostMessage)
	}
	{
		protected.GET("/rooms", s.RoomHandler.ListRooms, adminMiddleware)
		protected.PUT("/rooms/:id/status", s.RoomHandler.UpdateStatus, adminMiddleware)
		protected.POST("/rooms/:id/read", s.RoomHandler.MarkRead, adminMiddleware)
		protected.DELETE("/rooms/:id", s.RoomHandler.DeleteRoom, adminMiddleware)
		protected.GET("/presence", s.RoomHandler.OnlineCustomers, adminMiddleware)
	}
}
