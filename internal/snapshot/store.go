// Package snapshot holds the in-memory invite usage state per community.
//
// A community's state is only touched through a Community handle obtained
// from Store.Lock, so refresh-and-compare sequences for one community never
// interleave while different communities proceed independently.
package snapshot

import (
	"sync"

	"inviteledger.app/tracker/internal/model"
)

type state struct {
	mu     sync.Mutex
	snap   model.Snapshot
	vanity int
	known  bool
	// vanityRead is set once the vanity counter was read successfully.
	vanityRead bool
}

type Store struct {
	mu          sync.Mutex
	communities map[string]*state
}

func New() *Store {
	return &Store{communities: make(map[string]*state)}
}

// Lock blocks until no other caller holds communityID and returns its handle.
// The caller must call Unlock.
func (s *Store) Lock(communityID string) *Community {
	st := s.stateFor(communityID)
	st.mu.Lock()
	return &Community{id: communityID, st: st}
}

// Set replaces a community's snapshot and vanity counter in one step.
func (s *Store) Set(communityID string, snap model.Snapshot, vanity int) {
	c := s.Lock(communityID)
	defer c.Unlock()

	c.Replace(snap)
	c.SetVanity(vanity)
}

// Known reports whether communityID has a snapshot.
func (s *Store) Known(communityID string) bool {
	c := s.Lock(communityID)
	defer c.Unlock()

	_, _, ok := c.Current()
	return ok
}

// Forget resets a community's state, e.g. after the bot left it. The next
// join starts from an empty snapshot. The entry itself stays so a join still
// holding the community keeps excluding newcomers.
func (s *Store) Forget(communityID string) {
	c := s.Lock(communityID)
	defer c.Unlock()
	c.st.snap = model.Snapshot{}
	c.st.vanity = 0
	c.st.known = false
	c.st.vanityRead = false
}

// Len reports how many communities were ever seen.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.communities)
}

func (s *Store) stateFor(communityID string) *state {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.communities[communityID]
	if !ok {
		st = &state{}
		s.communities[communityID] = st
	}
	return st
}

// Community is exclusive access to one community's state.
type Community struct {
	id   string
	st   *state
	once sync.Once
}

func (c *Community) ID() string {
	return c.id
}

// Current returns the cached snapshot and vanity uses. known is false when no
// refresh has succeeded since start, in which case snap is empty.
func (c *Community) Current() (snap model.Snapshot, vanity int, known bool) {
	return c.st.snap, c.st.vanity, c.st.known
}

// Replace swaps the snapshot wholesale; it never merges.
func (c *Community) Replace(snap model.Snapshot) {
	c.st.snap = snap
	c.st.known = true
}

// Vanity returns the cached vanity uses. ok is false until a read succeeded.
func (c *Community) Vanity() (uses int, ok bool) {
	return c.st.vanity, c.st.vanityRead
}

func (c *Community) SetVanity(uses int) {
	c.st.vanity = uses
	c.st.vanityRead = true
}

// Unlock releases the community. Calling it more than once is harmless.
func (c *Community) Unlock() {
	c.once.Do(c.st.mu.Unlock)
}
