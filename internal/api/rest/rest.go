package rest

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler) {
	// Health check endpoint (no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Tracked item read access
		v1.GET("/items", handler.ListItems)
		v1.GET("/items/:id", handler.GetItem)

		// Derived totals per domain
		v1.GET("/aggregates/:domain", handler.GetAggregates)

		// Backend-computed admin stats, as pushed
		v1.GET("/admin/stats", handler.GetAdminStats)

		// Local user actions (optimistic entries)
		v1.POST("/actions", handler.RecordAction)
		v1.POST("/actions/:id/reject", handler.RejectAction)

		// Manual consistency backstop
		v1.POST("/refresh", handler.Refresh)
	}
}
