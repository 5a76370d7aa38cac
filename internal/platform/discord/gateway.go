package discord

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/internal/model"
)

// EventHandler is what the gateway drives; *reconciler.Reconciler satisfies it.
type EventHandler interface {
	Warm(ctx context.Context, communityIDs []string)
	HandleJoin(ctx context.Context, m model.Member) (model.JoinRecord, error)
	HandleLeave(ctx context.Context, m model.Member) (model.LeaveRecord, error)
	Forget(communityID string)
}

// Gateway routes discordgo events to an EventHandler. discordgo dispatches
// each event on its own goroutine, so handlers for different events overlap.
type Gateway struct {
	ctx     context.Context
	client  *Client
	handler EventHandler

	mu     sync.Mutex
	guilds map[string]struct{}
}

// NewGateway binds handlers to ctx; cancelling it cancels in-flight work.
func NewGateway(ctx context.Context, client *Client, handler EventHandler) *Gateway {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "tracker.discord"})
	return &Gateway{
		ctx:     ctx,
		client:  client,
		handler: handler,
		guilds:  make(map[string]struct{}),
	}
}

// Register installs the handlers and returns a func that removes them.
func (g *Gateway) Register(s *discordgo.Session) func() {
	removers := []func(){
		s.AddHandler(g.onReady),
		s.AddHandler(g.onGuildCreate),
		s.AddHandler(g.onGuildDelete),
		s.AddHandler(g.onMemberAdd),
		s.AddHandler(g.onMemberRemove),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	g.mu.Lock()
	for _, guild := range r.Guilds {
		if guild == nil || guild.ID == "" {
			continue
		}
		g.guilds[guild.ID] = struct{}{}
		ids = append(ids, guild.ID)
	}
	g.mu.Unlock()

	slog.InfoContext(g.ctx, "gateway ready", "guilds", len(ids))
	g.handler.Warm(g.ctx, ids)
}

// onGuildCreate warms guilds joined after Ready. The GuildCreate burst that
// follows Ready repeats known guilds and is skipped.
func (g *Gateway) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil || e.ID == "" || e.Unavailable {
		return
	}

	g.mu.Lock()
	_, known := g.guilds[e.ID]
	g.guilds[e.ID] = struct{}{}
	g.mu.Unlock()

	if known {
		return
	}
	g.handler.Warm(g.ctx, []string{e.ID})
}

func (g *Gateway) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	// Unavailable means an outage, not that the bot left.
	if e.Guild == nil || e.ID == "" || e.Unavailable {
		return
	}

	g.mu.Lock()
	delete(g.guilds, e.ID)
	g.mu.Unlock()

	g.handler.Forget(e.ID)
}

func (g *Gateway) onMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	m, ok := g.member(e.Member)
	if !ok {
		return
	}
	if _, err := g.handler.HandleJoin(g.ctx, m); err != nil {
		slog.ErrorContext(g.ctx, "member join not recorded",
			"guild_id", m.CommunityID, "member_id", m.ID(), "error", err)
	}
}

func (g *Gateway) onMemberRemove(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
	m, ok := g.member(e.Member)
	if !ok {
		return
	}
	if _, err := g.handler.HandleLeave(g.ctx, m); err != nil {
		slog.ErrorContext(g.ctx, "member leave not recorded",
			"guild_id", m.CommunityID, "member_id", m.ID(), "error", err)
	}
}

// member converts a gateway member, skipping partial payloads without a user.
func (g *Gateway) member(dm *discordgo.Member) (model.Member, bool) {
	if dm == nil || dm.User == nil || dm.GuildID == "" {
		return model.Member{}, false
	}
	return model.Member{CommunityID: dm.GuildID, User: g.client.Remember(dm.User)}, true
}
