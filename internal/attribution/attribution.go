// Package attribution decides which inviter caused a join by comparing two
// snapshots of a community's invite usage.
package attribution

import "inviteledger.app/tracker/internal/model"

// Result is the outcome of attributing one join.
type Result struct {
	Inviter model.Inviter
	// Delta is set for user attributions and is always 1.
	Delta int
}

// FindInviter returns the first inviter in after whose uses grew by exactly
// one since before. Inviters missing from before count as zero uses, so an
// inviter seen for the first time with a single use qualifies. Deltas of zero,
// below zero (drift) or above one (missed events) never match.
//
// Ties go to whoever comes first in after, which follows the platform's
// listing order. The platform gives no ordering guarantee, so which of two
// simultaneous +1 inviters wins is not deterministic across refreshes.
func FindInviter(before, after model.Snapshot) (string, bool) {
	for _, c := range after.Counts() {
		if c.Uses-before.Uses(c.InviterID) == 1 {
			return c.InviterID, true
		}
	}
	return "", false
}

// VanityUsed reports whether the vanity invite counter strictly increased.
// Communities without a vanity invite report 0 on both sides.
func VanityUsed(before, after int) bool {
	return after > before
}

// Attribute runs the full decision: per-inviter exact match first, then the
// vanity counter, then unknown.
func Attribute(before, after model.Snapshot, vanityBefore, vanityAfter int) Result {
	if id, ok := FindInviter(before, after); ok {
		return Result{Inviter: model.UserInviter(model.User{ID: id}), Delta: 1}
	}
	if VanityUsed(vanityBefore, vanityAfter) {
		return Result{Inviter: model.VanityInviter()}
	}
	return Result{Inviter: model.UnknownInviter()}
}
