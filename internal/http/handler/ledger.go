package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/internal/ledger"
	"inviteledger.app/tracker/internal/model"
)

// LedgerService is the part of *ledger.Service the admin API exposes.
type LedgerService interface {
	Read(ctx context.Context, m model.Member) (model.InviteLedger, error)
	GetCredit(ctx context.Context, m model.Member) (model.Inviter, error)
	AddBonus(ctx context.Context, m model.Member, n int) (model.InviteLedger, error)
	RemoveBonus(ctx context.Context, m model.Member, n int) (model.InviteLedger, error)
}

// Purger erases a member's credited inviter from their ledger.
type Purger interface {
	Purge(ctx context.Context, m model.Member) (model.InviteLedger, error)
}

type LedgerHandler struct {
	ledger      LedgerService
	purger      Purger
	adminAPIKey string
}

func NewLedgerHandler(ledger LedgerService, purger Purger, adminAPIKey string) *LedgerHandler {
	return &LedgerHandler{
		ledger:      ledger,
		purger:      purger,
		adminAPIKey: adminAPIKey,
	}
}

type ledgerResponse struct {
	CommunityID string              `json:"community_id"`
	MemberID    string              `json:"member_id"`
	Invites     model.InviteLedger  `json:"invites_users"`
	Summary     model.InviteSummary `json:"invites"`
}

type creditResponse struct {
	CommunityID string        `json:"community_id"`
	MemberID    string        `json:"member_id"`
	InvitedBy   model.Inviter `json:"invited_by"`
}

type bonusRequest struct {
	Amount int `json:"amount" binding:"required,gt=0"`
}

// Invites returns the member's ledger and summary, creating an empty ledger
// on first access.
func (h *LedgerHandler) Invites(c *gin.Context) {
	ctx, m := h.member(c)

	l, err := h.ledger.Read(ctx, m)
	if err != nil {
		h.fail(ctx, c, "failed to read invites", err)
		return
	}

	c.JSON(http.StatusOK, toLedgerResponse(m, l))
}

func (h *LedgerHandler) Credit(c *gin.Context) {
	ctx, m := h.member(c)

	inviter, err := h.ledger.GetCredit(ctx, m)
	if err != nil {
		h.fail(ctx, c, "failed to read credit", err)
		return
	}

	c.JSON(http.StatusOK, creditResponse{
		CommunityID: m.CommunityID,
		MemberID:    m.ID(),
		InvitedBy:   inviter,
	})
}

func (h *LedgerHandler) AddBonus(c *gin.Context) {
	h.adjustBonus(c, h.ledger.AddBonus, "bonus invites added")
}

func (h *LedgerHandler) RemoveBonus(c *gin.Context) {
	h.adjustBonus(c, h.ledger.RemoveBonus, "bonus invites removed")
}

func (h *LedgerHandler) adjustBonus(c *gin.Context, apply func(context.Context, model.Member, int) (model.InviteLedger, error), msg string) {
	ctx, m := h.member(c)

	var req bonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: amount must be a positive integer"})
		return
	}

	l, err := apply(ctx, m, req.Amount)
	if err != nil {
		h.fail(ctx, c, "failed to adjust bonus invites", err)
		return
	}

	slog.InfoContext(ctx, msg, "amount", req.Amount, "bonus", l.Bonus)
	c.JSON(http.StatusOK, toLedgerResponse(m, l))
}

func (h *LedgerHandler) Purge(c *gin.Context) {
	ctx, m := h.member(c)

	l, err := h.purger.Purge(ctx, m)
	if err != nil {
		h.fail(ctx, c, "failed to purge credit", err)
		return
	}

	c.JSON(http.StatusOK, toLedgerResponse(m, l))
}

// RequireAdminAPIKey rejects requests without the configured key, taken from
// X-Admin-API-Key or a bearer token. With no key configured the API is off.
func (h *LedgerHandler) RequireAdminAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminAPIKey == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin API not configured"})
			c.Abort()
			return
		}

		apiKey := c.GetHeader("X-Admin-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(h.adminAPIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (h *LedgerHandler) member(c *gin.Context) (context.Context, model.Member) {
	m := model.Member{
		CommunityID: c.Param("community_id"),
		User:        model.User{ID: c.Param("member_id")},
	}
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		CommunityID: logger.Ptr(m.CommunityID),
		MemberID:    logger.Ptr(m.ID()),
		Component:   "tracker.http.ledger",
	})
	return ctx, m
}

func (h *LedgerHandler) fail(ctx context.Context, c *gin.Context, msg string, err error) {
	if errors.Is(err, ledger.ErrInvalidMember) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slog.ErrorContext(ctx, msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func toLedgerResponse(m model.Member, l model.InviteLedger) ledgerResponse {
	l = l.Normalize()
	return ledgerResponse{
		CommunityID: m.CommunityID,
		MemberID:    m.ID(),
		Invites:     l,
		Summary:     l.Summary(),
	}
}
