package model

import (
	"fmt"
	"slices"
)

type Category string

const (
	CategoryRegular Category = "regular"
	CategoryBonus   Category = "bonus"
	CategoryFake    Category = "fake"
	CategoryLeave   Category = "leave"
)

// EntryCategories are the categories holding named inviter entries, in storage order.
var EntryCategories = []Category{CategoryRegular, CategoryFake, CategoryLeave}

func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryRegular, CategoryBonus, CategoryFake, CategoryLeave:
		return c, nil
	default:
		return "", fmt.Errorf("unknown invite category %q", s)
	}
}

// InviteLedger is the persisted per-member record of invite credit.
// Regular, Fake and Leave hold one inviter id per join event; Bonus is a plain
// counter and may go negative.
type InviteLedger struct {
	Regular []string `json:"regular"`
	Bonus   int      `json:"bonus"`
	Fake    []string `json:"fake"`
	Leave   []string `json:"leave"`
}

// InviteSummary is derived from an InviteLedger and never stored.
type InviteSummary struct {
	Regular int `json:"regular"`
	Bonus   int `json:"bonus"`
	Fake    int `json:"fake"`
	Leave   int `json:"leave"`
	Total   int `json:"total"`
}

func NewInviteLedger() InviteLedger {
	return InviteLedger{
		Regular: []string{},
		Fake:    []string{},
		Leave:   []string{},
	}
}

// Normalize replaces nil entry lists with empty ones so encoded ledgers
// always carry all four fields.
func (l InviteLedger) Normalize() InviteLedger {
	if l.Regular == nil {
		l.Regular = []string{}
	}
	if l.Fake == nil {
		l.Fake = []string{}
	}
	if l.Leave == nil {
		l.Leave = []string{}
	}
	return l
}

func (l InviteLedger) Clone() InviteLedger {
	return InviteLedger{
		Regular: append([]string{}, l.Regular...),
		Bonus:   l.Bonus,
		Fake:    append([]string{}, l.Fake...),
		Leave:   append([]string{}, l.Leave...),
	}
}

func (l InviteLedger) Summary() InviteSummary {
	s := InviteSummary{
		Regular: len(l.Regular),
		Bonus:   l.Bonus,
		Fake:    len(l.Fake),
		Leave:   len(l.Leave),
	}
	s.Total = s.Regular + s.Bonus - s.Fake - s.Leave
	return s
}

// Merge concatenates entry lists and sums bonus.
func (l InviteLedger) Merge(delta InviteLedger) InviteLedger {
	out := l.Clone()
	out.Regular = append(out.Regular, delta.Regular...)
	out.Bonus += delta.Bonus
	out.Fake = append(out.Fake, delta.Fake...)
	out.Leave = append(out.Leave, delta.Leave...)
	return out
}

// Move takes inviterID out of the other entry categories (first occurrence in
// each) and appends it to to. The append happens even when the id was found
// nowhere or to already holds it: every credited join adds one entry. Bonus is
// a counter, not an entry list, so moving to it is a no-op. Reports false when
// the ledger is unchanged.
func (l InviteLedger) Move(inviterID string, to Category) (InviteLedger, bool) {
	out := l.Clone()
	target := out.entries(to)
	if target == nil {
		return l, false
	}

	for _, c := range EntryCategories {
		if c == to {
			continue
		}
		entries := out.entries(c)
		if i := slices.Index(*entries, inviterID); i >= 0 {
			*entries = slices.Delete(*entries, i, i+1)
		}
	}

	*target = append(*target, inviterID)
	return out, true
}

// Remove drops the first exact match of inviterID from c, or decrements the
// bonus counter by one when c is bonus. Reports false when nothing changed.
func (l InviteLedger) Remove(inviterID string, c Category) (InviteLedger, bool) {
	out := l.Clone()
	if c == CategoryBonus {
		out.Bonus--
		return out, true
	}

	entries := out.entries(c)
	if entries == nil {
		return l, false
	}
	i := slices.Index(*entries, inviterID)
	if i < 0 {
		return l, false
	}
	*entries = slices.Delete(*entries, i, i+1)
	return out, true
}

// Count returns how many times inviterID appears in c.
func (l InviteLedger) Count(inviterID string, c Category) int {
	entries := l.entries(c)
	if entries == nil {
		return 0
	}
	n := 0
	for _, e := range *entries {
		if e == inviterID {
			n++
		}
	}
	return n
}

func (l *InviteLedger) entries(c Category) *[]string {
	switch c {
	case CategoryRegular:
		return &l.Regular
	case CategoryFake:
		return &l.Fake
	case CategoryLeave:
		return &l.Leave
	default:
		return nil
	}
}
