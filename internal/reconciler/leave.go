package reconciler

import (
	"context"
	"log/slog"

	"inviteledger.app/tracker/common/id"
	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/internal/model"
)

// HandleLeave records that a member left. The emitted record carries the
// ledger as it was before the credited invite moved to leave.
func (r *Reconciler) HandleLeave(ctx context.Context, m model.Member) (model.LeaveRecord, error) {
	if err := validMember(m); err != nil {
		return model.LeaveRecord{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommunityID: logger.Ptr(m.CommunityID),
		MemberID:    logger.Ptr(m.ID()),
		EventType:   logger.Ptr("member_left"),
		Component:   "tracker.reconciler",
	})

	sc := logger.StartSpan(ctx, "reconciler.handle_leave")
	defer sc.End()
	ctx = sc.Context()

	invites, err := r.ledger.Read(ctx, m)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "reading ledger for leave failed", "error", err)
		return model.LeaveRecord{}, err
	}

	inviter, err := r.ledger.GetCredit(ctx, m)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "reading credit for leave failed", "error", err)
		return model.LeaveRecord{}, err
	}

	if inviter.IsUser() {
		ctx = logger.WithLogFields(ctx, logger.LogFields{InviterID: logger.Ptr(inviter.UserID())})
		if _, err := r.ledger.MoveEntry(ctx, m, inviter.UserID(), model.CategoryLeave); err != nil {
			sc.RecordError(err)
			slog.ErrorContext(ctx, "moving invite to leave failed", "error", err)
			return model.LeaveRecord{}, err
		}
	}

	rec := model.LeaveRecord{
		ID:          id.New(),
		CommunityID: m.CommunityID,
		Member:      m,
		Inviter:     inviter,
		Invites:     invites,
		Summary:     invites.Summary(),
		OccurredAt:  r.now(),
	}

	slog.InfoContext(ctx, "leave recorded", "inviter", inviter.String())

	if err := r.listener.MemberLeft(ctx, rec); err != nil {
		slog.WarnContext(ctx, "leave listener failed", "error", err)
	}
	return rec, nil
}

// purgeOrder lists the categories Purge takes one entry (or one bonus) from.
var purgeOrder = []model.Category{
	model.CategoryRegular,
	model.CategoryBonus,
	model.CategoryFake,
	model.CategoryLeave,
}

// Purge erases the credited inviter's influence on a member's ledger: one
// matching entry from each entry category and one bonus. Vanity and unknown
// credit leave the ledger untouched.
func (r *Reconciler) Purge(ctx context.Context, m model.Member) (model.InviteLedger, error) {
	if err := validMember(m); err != nil {
		return model.InviteLedger{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommunityID: logger.Ptr(m.CommunityID),
		MemberID:    logger.Ptr(m.ID()),
		EventType:   logger.Ptr("purge"),
		Component:   "tracker.reconciler",
	})

	inviter, err := r.ledger.GetCredit(ctx, m)
	if err != nil {
		return model.InviteLedger{}, err
	}
	if !inviter.IsUser() {
		slog.InfoContext(ctx, "nothing to purge", "inviter", inviter.String())
		return r.ledger.Read(ctx, m)
	}

	var l model.InviteLedger
	for _, c := range purgeOrder {
		l, err = r.ledger.RemoveEntry(ctx, m, inviter.UserID(), c)
		if err != nil {
			slog.ErrorContext(ctx, "purge failed", "category", c, "error", err)
			return model.InviteLedger{}, err
		}
	}

	slog.InfoContext(ctx, "credit purged", "inviter", inviter.String(), "total", l.Summary().Total)
	return l, nil
}
