// Package discord adapts a discordgo session to the reconciler: it lists
// invites, reads vanity usage, resolves users and forwards gateway events.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"inviteledger.app/tracker/internal/model"
	"inviteledger.app/tracker/internal/reconciler"
)

// Intents the tracker needs: guild lifecycle, member joins and leaves (a
// privileged intent) and invite events.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildInvites

var ErrMissingSession = errors.New("discord session is required")

// NewSession creates a bot session with the tracker's intents. The connection
// is opened by the caller.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Client implements reconciler.InviteLister, reconciler.VanityReader and the
// UserResolver both the reconciler and the ledger consume.
type Client struct {
	session *discordgo.Session

	mu    sync.RWMutex
	users map[string]model.User
}

func NewClient(session *discordgo.Session) (*Client, error) {
	if session == nil {
		return nil, ErrMissingSession
	}
	return &Client{
		session: session,
		users:   make(map[string]model.User),
	}, nil
}

func (c *Client) ListInvites(ctx context.Context, guildID string) ([]model.InviteUsage, error) {
	invites, err := c.session.GuildInvites(guildID, discordgo.WithContext(ctx))
	if err != nil {
		if hasStatus(err, http.StatusForbidden) {
			return nil, fmt.Errorf("listing invites for %s: %w", guildID, reconciler.ErrMissingPermissions)
		}
		return nil, fmt.Errorf("listing invites for %s: %w", guildID, err)
	}

	out := make([]model.InviteUsage, 0, len(invites))
	for _, inv := range invites {
		if inv == nil {
			continue
		}
		usage := model.InviteUsage{Code: inv.Code, Uses: inv.Uses}
		if inv.Inviter != nil {
			usage.InviterID = inv.Inviter.ID
			c.Remember(inv.Inviter)
		}
		out = append(out, usage)
	}
	return out, nil
}

type vanityURL struct {
	Code *string `json:"code"`
	Uses int     `json:"uses"`
}

// VanityUses reads GET /guilds/{id}/vanity-url. Guilds without the feature
// answer 403 or 404, or return a null code; all of those mean absent.
func (c *Client) VanityUses(ctx context.Context, guildID string) (int, bool, error) {
	endpoint := discordgo.EndpointGuild(guildID)
	body, err := c.session.RequestWithBucketID(http.MethodGet, endpoint+"/vanity-url", nil, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		if hasStatus(err, http.StatusForbidden) || hasStatus(err, http.StatusNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading vanity url for %s: %w", guildID, err)
	}
	return parseVanity(body)
}

func parseVanity(body []byte) (int, bool, error) {
	var v vanityURL
	if err := json.Unmarshal(body, &v); err != nil {
		return 0, false, fmt.Errorf("decoding vanity url: %w", err)
	}
	if v.Code == nil || *v.Code == "" {
		return 0, false, nil
	}
	return v.Uses, true, nil
}

// ResolveUser answers from users seen on invites and member events first and
// asks the API otherwise. Any failure is a miss.
func (c *Client) ResolveUser(ctx context.Context, userID string) (model.User, bool) {
	if userID == "" {
		return model.User{}, false
	}

	c.mu.RLock()
	u, ok := c.users[userID]
	c.mu.RUnlock()
	if ok {
		return u, true
	}

	du, err := c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		if !hasStatus(err, http.StatusNotFound) {
			slog.WarnContext(ctx, "resolving user failed", "user_id", userID, "error", err)
		}
		return model.User{}, false
	}
	return c.Remember(du), true
}

// Remember caches a user for later resolution.
func (c *Client) Remember(du *discordgo.User) model.User {
	u := toUser(du)
	if u.ID == "" {
		return u
	}

	c.mu.Lock()
	c.users[u.ID] = u
	c.mu.Unlock()
	return u
}

func toUser(du *discordgo.User) model.User {
	if du == nil {
		return model.User{}
	}
	return model.User{ID: du.ID, Username: du.Username, Bot: du.Bot}
}

func hasStatus(err error, status int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == status
}
