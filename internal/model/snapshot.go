package model

// InviteUsage is one invite code as listed by the platform.
type InviteUsage struct {
	Code      string
	InviterID string
	Uses      int
}

// UsageCount is an inviter's cumulative uses across all of their codes.
type UsageCount struct {
	InviterID string `json:"inviter_id"`
	Uses      int    `json:"uses"`
}

// Snapshot maps inviter id to cumulative uses for one community at one point
// in time. Iteration order is the order in which inviters first appeared in
// the listing it was built from. The zero value is an empty snapshot.
type Snapshot struct {
	counts []UsageCount
	index  map[string]int
}

// NewSnapshot aggregates listed invites by inviter. Codes without an inviter
// (widget or system invites) carry no credit and are skipped.
func NewSnapshot(usages []InviteUsage) Snapshot {
	s := Snapshot{index: make(map[string]int, len(usages))}
	for _, u := range usages {
		if u.InviterID == "" {
			continue
		}
		uses := u.Uses
		if uses < 0 {
			uses = 0
		}
		if i, ok := s.index[u.InviterID]; ok {
			s.counts[i].Uses += uses
			continue
		}
		s.index[u.InviterID] = len(s.counts)
		s.counts = append(s.counts, UsageCount{InviterID: u.InviterID, Uses: uses})
	}
	return s
}

// SnapshotOf builds a snapshot from already aggregated counts, keeping order.
// Repeated inviters are summed.
func SnapshotOf(counts ...UsageCount) Snapshot {
	usages := make([]InviteUsage, len(counts))
	for i, c := range counts {
		usages[i] = InviteUsage{InviterID: c.InviterID, Uses: c.Uses}
	}
	return NewSnapshot(usages)
}

// Uses returns the cumulative uses for inviterID, 0 when absent.
func (s Snapshot) Uses(inviterID string) int {
	if i, ok := s.index[inviterID]; ok {
		return s.counts[i].Uses
	}
	return 0
}

func (s Snapshot) Has(inviterID string) bool {
	_, ok := s.index[inviterID]
	return ok
}

func (s Snapshot) Len() int {
	return len(s.counts)
}

// Counts returns a copy of the entries in iteration order.
func (s Snapshot) Counts() []UsageCount {
	return append([]UsageCount(nil), s.counts...)
}
