package router

import (
	"github.com/gin-gonic/gin"

	"inviteledger.app/tracker/internal/http/handler"
)

// SetupRoutes mounts the health check and the admin ledger API.
func SetupRoutes(router *gin.Engine, h *handler.LedgerHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		LedgerRouter(v1.Group("/communities/:community_id/members/:member_id"), h)
	}
}
