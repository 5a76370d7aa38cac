package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"inviteledger.app/tracker/common/id"
	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/internal/attribution"
	"inviteledger.app/tracker/internal/ledger"
	"inviteledger.app/tracker/internal/model"
)

// HandleJoin attributes a join, credits it and emits the JoinRecord.
//
// A failure to list invites (other than a timeout or a permission refusal) or
// to persist credit aborts the join: the error is returned and nothing is
// emitted.
func (r *Reconciler) HandleJoin(ctx context.Context, m model.Member) (model.JoinRecord, error) {
	if err := validMember(m); err != nil {
		return model.JoinRecord{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommunityID: logger.Ptr(m.CommunityID),
		MemberID:    logger.Ptr(m.ID()),
		EventType:   logger.Ptr("member_joined"),
		Component:   "tracker.reconciler",
	})

	sc := logger.StartSpan(ctx, "reconciler.handle_join")
	defer sc.End()
	ctx = sc.Context()

	inviter, joinType, err := r.attribute(ctx, m.CommunityID)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "join attribution aborted", "error", err)
		return model.JoinRecord{}, err
	}

	if inviter.IsUser() {
		ctx = logger.WithLogFields(ctx, logger.LogFields{InviterID: logger.Ptr(inviter.UserID())})
	}
	sc.SetAttributes(
		attribute.String("invite.inviter", inviter.String()),
		attribute.String("invite.join_type", string(joinType)),
	)

	invites, err := r.credit(ctx, m, inviter)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "crediting join failed", "error", err)
		return model.JoinRecord{}, err
	}

	rec := model.JoinRecord{
		ID:          id.New(),
		CommunityID: m.CommunityID,
		Member:      m,
		Inviter:     r.hydrate(ctx, inviter),
		JoinType:    joinType,
		Invites:     invites,
		Summary:     invites.Summary(),
		OccurredAt:  r.now(),
	}

	slog.InfoContext(ctx, "join attributed",
		"inviter", inviter.String(),
		"join_type", rec.JoinType,
		"total", rec.Summary.Total)

	if err := r.listener.MemberJoined(ctx, rec); err != nil {
		slog.WarnContext(ctx, "join listener failed", "error", err)
	}
	return rec, nil
}

// attribute holds the community for the whole refresh-and-compare so two
// joins never measure each other's deltas.
func (r *Reconciler) attribute(ctx context.Context, communityID string) (model.Inviter, model.JoinType, error) {
	c := r.snapshots.Lock(communityID)
	defer c.Unlock()

	before, vanityBefore, known := c.Current()

	usages, err := r.listInvites(ctx, communityID)
	switch {
	case err == nil:
	case errors.Is(err, ErrMissingPermissions):
		slog.WarnContext(ctx, "cannot list invites, join left unattributed", "error", err)
		return model.UnknownInviter(), model.JoinTypePermissions, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		slog.WarnContext(ctx, "invite listing timed out, join left unattributed",
			"timeout", r.cfg.AttributionTimeout)
		return model.UnknownInviter(), model.JoinTypeUnknown, nil
	default:
		return model.Inviter{}, "", fmt.Errorf("listing invites: %w", err)
	}

	after := model.NewSnapshot(usages)
	if !known {
		slog.DebugContext(ctx, "no cached snapshot, comparing against empty")
	}

	// A failed vanity read leaves the cached counter alone, and the first
	// successful read only primes it.
	vanityAfter := vanityBefore
	if _, ok := attribution.FindInviter(before, after); !ok {
		if uses, read := r.vanityUses(ctx, communityID); read {
			if _, primed := c.Vanity(); !primed {
				vanityBefore = uses
			}
			vanityAfter = uses
			c.SetVanity(uses)
		}
	}

	res := attribution.Attribute(before, after, vanityBefore, vanityAfter)
	c.Replace(after)

	return res.Inviter, model.JoinTypeFor(res.Inviter), nil
}

func (r *Reconciler) credit(ctx context.Context, m model.Member, inviter model.Inviter) (model.InviteLedger, error) {
	if err := r.ledger.SetCredit(ctx, m, inviter); err != nil {
		return model.InviteLedger{}, err
	}

	if inviter.IsUser() {
		if _, err := r.ledger.MoveEntry(ctx, m, inviter.UserID(), model.CategoryRegular); err != nil {
			return model.InviteLedger{}, err
		}
	}

	return r.ledger.Read(ctx, m)
}

func (r *Reconciler) listInvites(ctx context.Context, communityID string) ([]model.InviteUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AttributionTimeout)
	defer cancel()
	return r.invites.ListInvites(ctx, communityID)
}

// vanityUses reports the vanity counter and whether it could be read. An
// absent vanity invite reads as zero uses; a failed read reports false.
func (r *Reconciler) vanityUses(ctx context.Context, communityID string) (int, bool) {
	uses, ok, err := r.vanity.VanityUses(ctx, communityID)
	if err != nil {
		slog.DebugContext(ctx, "vanity uses unavailable", "error", err)
		return 0, false
	}
	if !ok {
		return 0, true
	}
	return uses, true
}

// hydrate fills in the inviter's display fields when a resolver is wired.
func (r *Reconciler) hydrate(ctx context.Context, inviter model.Inviter) model.Inviter {
	if r.users == nil || !inviter.IsUser() {
		return inviter
	}
	if u, ok := r.users.ResolveUser(ctx, inviter.UserID()); ok {
		return model.UserInviter(u)
	}
	return inviter
}

func validMember(m model.Member) error {
	if m.CommunityID == "" || m.ID() == "" {
		return ledger.ErrInvalidMember
	}
	return nil
}
