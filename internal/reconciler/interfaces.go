package reconciler

import (
	"context"
	"errors"

	"inviteledger.app/tracker/internal/model"
)

// InviteLister returns every invite currently live in a community with its
// cumulative uses. Implementations wrap a refusal to list for lack of
// permission in ErrMissingPermissions.
type InviteLister interface {
	ListInvites(ctx context.Context, communityID string) ([]model.InviteUsage, error)
}

// VanityReader reports the community's vanity invite uses. ok is false when
// the community has no vanity invite, which is not an error.
type VanityReader interface {
	VanityUses(ctx context.Context, communityID string) (uses int, ok bool, err error)
}

// UserResolver re-hydrates an inviter id into a display-capable user.
type UserResolver interface {
	ResolveUser(ctx context.Context, userID string) (model.User, bool)
}

// Ledger is the subset of *ledger.Service the reconciler drives.
type Ledger interface {
	Read(ctx context.Context, m model.Member) (model.InviteLedger, error)
	MoveEntry(ctx context.Context, m model.Member, inviterID string, to model.Category) (model.InviteLedger, error)
	RemoveEntry(ctx context.Context, m model.Member, inviterID string, c model.Category) (model.InviteLedger, error)
	SetCredit(ctx context.Context, m model.Member, inviter model.Inviter) error
	GetCredit(ctx context.Context, m model.Member) (model.Inviter, error)
}

// Listener receives the reconciler's terminal results. Errors are logged by
// the reconciler and never undo the ledger changes already made.
type Listener interface {
	CacheFetched(ctx context.Context, communityIDs []string) error
	MemberJoined(ctx context.Context, rec model.JoinRecord) error
	MemberLeft(ctx context.Context, rec model.LeaveRecord) error
}

// Listeners fans every notification out to each listener in order. One
// failing listener does not stop the others.
type Listeners []Listener

func (ls Listeners) CacheFetched(ctx context.Context, communityIDs []string) error {
	var errs []error
	for _, l := range ls {
		if err := l.CacheFetched(ctx, communityIDs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ls Listeners) MemberJoined(ctx context.Context, rec model.JoinRecord) error {
	var errs []error
	for _, l := range ls {
		if err := l.MemberJoined(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ls Listeners) MemberLeft(ctx context.Context, rec model.LeaveRecord) error {
	var errs []error
	for _, l := range ls {
		if err := l.MemberLeft(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnCacheFetched func(ctx context.Context, communityIDs []string) error
	OnMemberJoined func(ctx context.Context, rec model.JoinRecord) error
	OnMemberLeft   func(ctx context.Context, rec model.LeaveRecord) error
}

func (f ListenerFuncs) CacheFetched(ctx context.Context, communityIDs []string) error {
	if f.OnCacheFetched == nil {
		return nil
	}
	return f.OnCacheFetched(ctx, communityIDs)
}

func (f ListenerFuncs) MemberJoined(ctx context.Context, rec model.JoinRecord) error {
	if f.OnMemberJoined == nil {
		return nil
	}
	return f.OnMemberJoined(ctx, rec)
}

func (f ListenerFuncs) MemberLeft(ctx context.Context, rec model.LeaveRecord) error {
	if f.OnMemberLeft == nil {
		return nil
	}
	return f.OnMemberLeft(ctx, rec)
}
