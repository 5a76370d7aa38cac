package model

import "time"

// Member is a user's membership in one community.
type Member struct {
	CommunityID string `json:"community_id"`
	User        User   `json:"user"`
}

func (m Member) ID() string {
	return m.User.ID
}

type JoinType string

const (
	JoinTypeNormal  JoinType = "normal"
	JoinTypeVanity  JoinType = "vanity"
	JoinTypeUnknown JoinType = "unknown"
	// JoinTypePermissions marks joins that could not be attributed because the
	// platform refused to list the community's invites.
	JoinTypePermissions JoinType = "permissions"
)

// JoinRecord is emitted once a join has been attributed and credited.
type JoinRecord struct {
	ID          int64         `json:"id"`
	CommunityID string        `json:"community_id"`
	Member      Member        `json:"member"`
	Inviter     Inviter       `json:"invited_by"`
	JoinType    JoinType      `json:"join_type"`
	Invites     InviteLedger  `json:"invites_users"`
	Summary     InviteSummary `json:"invites"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// LeaveRecord carries the ledger as it was before the leave was recorded.
type LeaveRecord struct {
	ID          int64         `json:"id"`
	CommunityID string        `json:"community_id"`
	Member      Member        `json:"member"`
	Inviter     Inviter       `json:"invited_by"`
	Invites     InviteLedger  `json:"invites_users"`
	Summary     InviteSummary `json:"invites"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// JoinTypeFor maps an attributed inviter to its join type.
func JoinTypeFor(i Inviter) JoinType {
	switch {
	case i.IsUser():
		return JoinTypeNormal
	case i.IsVanity():
		return JoinTypeVanity
	default:
		return JoinTypeUnknown
	}
}
