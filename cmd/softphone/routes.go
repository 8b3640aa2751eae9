package main

import (
	"softphone/internal/auth"
	"softphone/internal/httpapi"
	"softphone/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to the engine.
func registerRoutes(r *gin.Engine, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(h.Auth))
	v1.Use(rbac.RequireAnyRole(rbac.CallRoles...))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		v1.POST("/calls", h.Dial)

		phone := v1.Group("/softphone")
		{
			phone.GET("", h.GetSoftphone)
			phone.GET("/events", h.StreamEvents)
			phone.GET("/notifications", h.Notifications)
			phone.POST("/answer", h.Answer)
			phone.POST("/hangup", h.Hangup)
			phone.POST("/hold", h.ToggleHold)
			phone.POST("/mute", h.ToggleMute)
			phone.POST("/transfer", h.Transfer)
			phone.POST("/account/reload", h.ReloadAccount)
		}
	}
}
