// Package ledger persists per-member invite credit: the four-category
// InviteLedger and the recorded inviter.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"inviteledger.app/tracker/common/keylock"
	"inviteledger.app/tracker/internal/model"
	"inviteledger.app/tracker/internal/store"
)

var (
	ErrInvalidMember = errors.New("member requires a community id and a user id")
	ErrMissingStore  = errors.New("ledger requires a key-value store")
	ErrMissingUsers  = errors.New("ledger requires a user resolver")
)

// UserResolver re-hydrates a stored user id from the platform's user cache.
type UserResolver interface {
	ResolveUser(ctx context.Context, userID string) (model.User, bool)
}

type Config struct {
	Prefix string
}

// Service is safe for concurrent use. Read-modify-write cycles on the same
// key are serialized; different keys proceed in parallel.
type Service struct {
	kv    store.KV
	keys  store.Keys
	users UserResolver
	locks *keylock.Map
}

func New(kv store.KV, users UserResolver, cfg Config) (*Service, error) {
	if kv == nil {
		return nil, ErrMissingStore
	}
	if users == nil {
		return nil, ErrMissingUsers
	}
	return &Service{
		kv:    kv,
		keys:  store.Keys{Prefix: cfg.Prefix},
		users: users,
		locks: keylock.New(),
	}, nil
}

// Read returns the member's ledger. The first read for a member persists an
// empty ledger before returning it, so a read may write exactly once.
func (s *Service) Read(ctx context.Context, m model.Member) (model.InviteLedger, error) {
	key, err := s.ledgerKey(m)
	if err != nil {
		return model.InviteLedger{}, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	return s.readLocked(ctx, key)
}

// Summarize derives the numeric summary from the current ledger.
func (s *Service) Summarize(ctx context.Context, m model.Member) (model.InviteSummary, error) {
	l, err := s.Read(ctx, m)
	if err != nil {
		return model.InviteSummary{}, err
	}
	return l.Summary(), nil
}

// Add concatenates delta's entry lists onto the stored ones and sums bonus.
func (s *Service) Add(ctx context.Context, m model.Member, delta model.InviteLedger) (model.InviteLedger, error) {
	return s.mutate(ctx, m, func(l model.InviteLedger) (model.InviteLedger, bool) {
		return l.Merge(delta), true
	})
}

// AddBonus credits n bonus invites.
func (s *Service) AddBonus(ctx context.Context, m model.Member, n int) (model.InviteLedger, error) {
	return s.Add(ctx, m, model.InviteLedger{Bonus: n})
}

// RemoveBonus debits n bonus invites. The counter has no floor.
func (s *Service) RemoveBonus(ctx context.Context, m model.Member, n int) (model.InviteLedger, error) {
	return s.Add(ctx, m, model.InviteLedger{Bonus: -n})
}

// MoveEntry reclassifies inviterID into to. See model.InviteLedger.Move for
// the exact rules; moving to bonus returns the ledger untouched.
func (s *Service) MoveEntry(ctx context.Context, m model.Member, inviterID string, to model.Category) (model.InviteLedger, error) {
	return s.mutate(ctx, m, func(l model.InviteLedger) (model.InviteLedger, bool) {
		return l.Move(inviterID, to)
	})
}

// RemoveEntry drops one inviterID entry from c, or one bonus when c is bonus.
// Removing an absent entry is a no-op, not an error.
func (s *Service) RemoveEntry(ctx context.Context, m model.Member, inviterID string, c model.Category) (model.InviteLedger, error) {
	return s.mutate(ctx, m, func(l model.InviteLedger) (model.InviteLedger, bool) {
		return l.Remove(inviterID, c)
	})
}

// SetCredit records who invited the member.
func (s *Service) SetCredit(ctx context.Context, m model.Member, inviter model.Inviter) error {
	key, err := s.creditKey(m)
	if err != nil {
		return err
	}

	// Only the user id is worth persisting; names are resolved on read.
	if inviter.IsUser() {
		inviter = model.UserInviter(model.User{ID: inviter.UserID()})
	} else if !inviter.IsVanity() {
		inviter = model.UnknownInviter()
	}

	data, err := json.Marshal(inviter)
	if err != nil {
		return fmt.Errorf("encoding credit: %w", err)
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("writing credit: %w", err)
	}
	return nil
}

// GetCredit returns who invited the member. Missing credit, unreadable credit
// and users the resolver no longer knows all come back as unknown.
func (s *Service) GetCredit(ctx context.Context, m model.Member) (model.Inviter, error) {
	key, err := s.creditKey(m)
	if err != nil {
		return model.Inviter{}, err
	}

	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.UnknownInviter(), nil
		}
		return model.Inviter{}, fmt.Errorf("reading credit: %w", err)
	}

	var stored model.Inviter
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.WarnContext(ctx, "unreadable credit, treating as unknown", "key", key, "error", err)
		return model.UnknownInviter(), nil
	}

	if !stored.IsUser() {
		return stored, nil
	}

	user, ok := s.users.ResolveUser(ctx, stored.UserID())
	if !ok {
		slog.DebugContext(ctx, "credited user no longer resolvable", "user_id", stored.UserID())
		return model.UnknownInviter(), nil
	}
	return model.UserInviter(user), nil
}

func (s *Service) mutate(ctx context.Context, m model.Member, fn func(model.InviteLedger) (model.InviteLedger, bool)) (model.InviteLedger, error) {
	key, err := s.ledgerKey(m)
	if err != nil {
		return model.InviteLedger{}, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	current, err := s.readLocked(ctx, key)
	if err != nil {
		return model.InviteLedger{}, err
	}

	next, changed := fn(current)
	if !changed {
		return current, nil
	}

	next = next.Normalize()
	if err := s.write(ctx, key, next); err != nil {
		return model.InviteLedger{}, err
	}
	return next, nil
}

func (s *Service) readLocked(ctx context.Context, key string) (model.InviteLedger, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return model.InviteLedger{}, fmt.Errorf("reading ledger: %w", err)
		}

		fresh := model.NewInviteLedger()
		if err := s.write(ctx, key, fresh); err != nil {
			return model.InviteLedger{}, err
		}
		slog.DebugContext(ctx, "initialized empty ledger", "key", key)
		return fresh, nil
	}

	var l model.InviteLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return model.InviteLedger{}, fmt.Errorf("decoding ledger %s: %w", key, err)
	}
	return l.Normalize(), nil
}

func (s *Service) write(ctx context.Context, key string, l model.InviteLedger) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}

func (s *Service) ledgerKey(m model.Member) (string, error) {
	if m.CommunityID == "" || m.ID() == "" {
		return "", ErrInvalidMember
	}
	return s.keys.Ledger(m.CommunityID, m.ID()), nil
}

func (s *Service) creditKey(m model.Member) (string, error) {
	if m.CommunityID == "" || m.ID() == "" {
		return "", ErrInvalidMember
	}
	return s.keys.Credit(m.CommunityID, m.ID()), nil
}

