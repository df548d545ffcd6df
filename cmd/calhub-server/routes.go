package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"calhub/internal/api"
)

func routes(handlers *api.Handlers, auth api.Authenticator, handlerTimeout time.Duration) http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/health", healthHandler)

	authed := g.Group("/api", api.RequireAuth(auth))
	{
		authed.GET("/calendar/events", withTimeout(handlerTimeout, handlers.Events))
		authed.GET("/calendar/events/delta", withTimeout(handlerTimeout, handlers.DeltaEvents))
		authed.POST("/calendar/events", withTimeout(handlerTimeout, handlers.CreateEvent))
		authed.GET("/calendar/o365/calendars", withTimeout(handlerTimeout, handlers.O365Calendars))
		authed.GET("/settings/calendar", handlers.Settings)
		authed.PUT("/settings/calendar", handlers.UpdateSettings)
	}

	return g
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func withTimeout(d time.Duration, fn gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		fn(c)
	}
}
