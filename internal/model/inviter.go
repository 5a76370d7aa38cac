package model

import (
	"encoding/json"
	"fmt"
)

type InviterKind string

const (
	InviterKindUser    InviterKind = "user"
	InviterKindVanity  InviterKind = "vanity"
	InviterKindUnknown InviterKind = "unknown"
)

// User is the display-capable identity of a platform account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Bot      bool   `json:"bot,omitempty"`
}

// Inviter is who brought a member in: a user, the community's vanity invite,
// or nobody we could determine. The kind tag is authoritative, so a user whose
// id happens to be "vanity" is still a user.
type Inviter struct {
	Kind InviterKind `json:"kind"`
	User *User       `json:"user,omitempty"`
}

func UserInviter(u User) Inviter {
	return Inviter{Kind: InviterKindUser, User: &u}
}

func VanityInviter() Inviter {
	return Inviter{Kind: InviterKindVanity}
}

func UnknownInviter() Inviter {
	return Inviter{Kind: InviterKindUnknown}
}

func (i Inviter) IsUser() bool {
	return i.Kind == InviterKindUser && i.User != nil
}

func (i Inviter) IsVanity() bool {
	return i.Kind == InviterKindVanity
}

func (i Inviter) IsUnknown() bool {
	return !i.IsUser() && !i.IsVanity()
}

// UserID returns the inviting user's id, or "" for vanity and unknown.
func (i Inviter) UserID() string {
	if !i.IsUser() {
		return ""
	}
	return i.User.ID
}

// String is meant for logs only.
func (i Inviter) String() string {
	if i.IsUser() {
		return "user:" + i.User.ID
	}
	if i.IsVanity() {
		return string(InviterKindVanity)
	}
	return string(InviterKindUnknown)
}

func (i *Inviter) UnmarshalJSON(data []byte) error {
	type raw Inviter
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	switch r.Kind {
	case InviterKindUser:
		if r.User == nil || r.User.ID == "" {
			return fmt.Errorf("user inviter without user id")
		}
	case InviterKindVanity, InviterKindUnknown:
		r.User = nil
	default:
		return fmt.Errorf("unknown inviter kind %q", r.Kind)
	}

	*i = Inviter(r)
	return nil
}
