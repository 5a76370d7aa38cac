// Package reconciler turns membership changes into invite credit: it refreshes
// a community's invite snapshot, attributes the join, updates the ledger and
// hands the resulting record to listeners.
package reconciler

import (
	"errors"
	"fmt"
	"time"

	"inviteledger.app/tracker/internal/snapshot"
)

var (
	// ErrMissingPermissions is returned by an InviteLister when the platform
	// refuses to list a community's invites.
	ErrMissingPermissions = errors.New("missing permission to list invites")

	ErrMissingCollaborator = errors.New("missing required collaborator")
)

const DefaultAttributionTimeout = 10 * time.Second

type Config struct {
	// AttributionTimeout bounds each invite listing. A listing that expires
	// during a join attributes it to unknown.
	AttributionTimeout time.Duration
}

// Deps are the collaborators a Reconciler needs. Invites, Vanity and Ledger
// are required.
type Deps struct {
	Invites   InviteLister
	Vanity    VanityReader
	Ledger    Ledger
	Users     UserResolver
	Snapshots *snapshot.Store
	Listener  Listener
	Now       func() time.Time
}

type Reconciler struct {
	cfg       Config
	invites   InviteLister
	vanity    VanityReader
	ledger    Ledger
	users     UserResolver
	snapshots *snapshot.Store
	listener  Listener
	now       func() time.Time
}

func New(cfg Config, deps Deps) (*Reconciler, error) {
	switch {
	case deps.Invites == nil:
		return nil, fmt.Errorf("%w: invite lister", ErrMissingCollaborator)
	case deps.Vanity == nil:
		return nil, fmt.Errorf("%w: vanity reader", ErrMissingCollaborator)
	case deps.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger", ErrMissingCollaborator)
	}

	if cfg.AttributionTimeout <= 0 {
		cfg.AttributionTimeout = DefaultAttributionTimeout
	}
	if deps.Snapshots == nil {
		deps.Snapshots = snapshot.New()
	}
	if deps.Listener == nil {
		deps.Listener = Listeners{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Reconciler{
		cfg:       cfg,
		invites:   deps.Invites,
		vanity:    deps.Vanity,
		ledger:    deps.Ledger,
		users:     deps.Users,
		snapshots: deps.Snapshots,
		listener:  deps.Listener,
		now:       deps.Now,
	}, nil
}

// Forget drops the cached snapshot of a community the bot no longer sees.
func (r *Reconciler) Forget(communityID string) {
	r.snapshots.Forget(communityID)
}
