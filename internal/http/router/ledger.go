package router

import (
	"github.com/gin-gonic/gin"

	"inviteledger.app/tracker/internal/http/handler"
)

// LedgerRouter sets up per-member ledger routes. All of them require the
// admin API key.
func LedgerRouter(rg *gin.RouterGroup, h *handler.LedgerHandler) {
	rg.Use(h.RequireAdminAPIKey())
	{
		rg.GET("/invites", h.Invites)
		rg.GET("/credit", h.Credit)
		rg.POST("/bonus", h.AddBonus)
		rg.DELETE("/bonus", h.RemoveBonus)
		rg.POST("/purge", h.Purge)
	}
}
