package reconciler

import (
	"context"
	"log/slog"

	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/internal/model"
)

// Warm takes the initial snapshot of every community once the platform is
// ready. A community whose invites cannot be listed stays unset and its first
// join compares against an empty snapshot. Listeners get CacheFetched after
// all communities were tried.
func (r *Reconciler) Warm(ctx context.Context, communityIDs []string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr("ready"),
		Component: "tracker.reconciler",
	})

	sc := logger.StartSpan(ctx, "reconciler.warm")
	defer sc.End()
	ctx = sc.Context()

	warmed := 0
	for _, communityID := range communityIDs {
		if err := ctx.Err(); err != nil {
			slog.WarnContext(ctx, "warm-up interrupted", "error", err)
			return
		}
		if r.warmOne(ctx, communityID) {
			warmed++
		}
	}

	slog.InfoContext(ctx, "invite cache fetched", "communities", len(communityIDs), "warmed", warmed)

	if err := r.listener.CacheFetched(ctx, communityIDs); err != nil {
		slog.WarnContext(ctx, "cache listener failed", "error", err)
	}
}

func (r *Reconciler) warmOne(ctx context.Context, communityID string) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{CommunityID: logger.Ptr(communityID)})

	usages, err := r.listInvites(ctx, communityID)
	if err != nil {
		slog.WarnContext(ctx, "initial invite fetch failed", "error", err)
		return false
	}

	snap := model.NewSnapshot(usages)
	if uses, ok := r.vanityUses(ctx, communityID); ok {
		r.snapshots.Set(communityID, snap, uses)
		return true
	}

	c := r.snapshots.Lock(communityID)
	c.Replace(snap)
	c.Unlock()
	return true
}
