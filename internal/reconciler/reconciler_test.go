package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"inviteledger.app/tracker/internal/ledger"
	"inviteledger.app/tracker/internal/model"
	"inviteledger.app/tracker/internal/reconciler"
	"inviteledger.app/tracker/internal/snapshot"
	"inviteledger.app/tracker/internal/store"
)

var _ = Describe("Reconciler", func() {
	var (
		ctx      context.Context
		lister   *mockInviteLister
		vanity   *mockVanityReader
		resolver *mockUserResolver
		listener *recordingListener
		kv       *failingKV
		led      *ledger.Service
		snaps    *snapshot.Store
		rec      *reconciler.Reconciler
		member   model.Member
		now      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		lister = &mockInviteLister{}
		vanity = &mockVanityReader{}
		resolver = &mockUserResolver{users: map[string]model.User{
			"A": {ID: "A", Username: "alice"},
			"B": {ID: "B", Username: "bob"},
		}}
		listener = &recordingListener{}
		kv = &failingKV{MemoryKV: store.NewMemoryKV()}
		snaps = snapshot.New()
		member = model.Member{CommunityID: "g1", User: model.User{ID: "m1", Username: "mia"}}
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		var err error
		led, err = ledger.New(kv, resolver, ledger.Config{Prefix: "invitemanager_"})
		Expect(err).NotTo(HaveOccurred())

		rec, err = reconciler.New(reconciler.Config{AttributionTimeout: 50 * time.Millisecond}, reconciler.Deps{
			Invites:   lister,
			Vanity:    vanity,
			Ledger:    led,
			Users:     resolver,
			Snapshots: snaps,
			Listener:  listener,
			Now:       func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())
	})

	cached := func(communityID string) (model.Snapshot, int, bool) {
		c := snaps.Lock(communityID)
		defer c.Unlock()
		return c.Current()
	}

	Describe("New", func() {
		It("requires an invite lister", func() {
			_, err := reconciler.New(reconciler.Config{}, reconciler.Deps{Vanity: vanity, Ledger: led})
			Expect(err).To(MatchError(reconciler.ErrMissingCollaborator))
		})

		It("requires a vanity reader", func() {
			_, err := reconciler.New(reconciler.Config{}, reconciler.Deps{Invites: lister, Ledger: led})
			Expect(err).To(MatchError(reconciler.ErrMissingCollaborator))
		})

		It("requires a ledger", func() {
			_, err := reconciler.New(reconciler.Config{}, reconciler.Deps{Invites: lister, Vanity: vanity})
			Expect(err).To(MatchError(reconciler.ErrMissingCollaborator))
		})
	})

	Describe("Warm", func() {
		It("snapshots every community and tolerates failures", func() {
			lister.listFn = func(_ context.Context, communityID string) ([]model.InviteUsage, error) {
				if communityID == "g2" {
					return nil, errors.New("bad gateway")
				}
				return usages("A", 3), nil
			}
			vanity.usesFn = func(_ context.Context, communityID string) (int, bool, error) {
				if communityID == "g1" {
					return 0, false, errors.New("not found")
				}
				return 4, true, nil
			}

			rec.Warm(ctx, []string{"g1", "g2", "g3"})

			snap, vanityUses, known := cached("g1")
			Expect(known).To(BeTrue())
			Expect(snap.Uses("A")).To(Equal(3))
			Expect(vanityUses).To(BeZero())

			_, _, known = cached("g2")
			Expect(known).To(BeFalse())

			_, vanityUses, known = cached("g3")
			Expect(known).To(BeTrue())
			Expect(vanityUses).To(Equal(4))

			Expect(listener.fetched).To(Equal([][]string{{"g1", "g2", "g3"}}))
		})
	})

	Describe("HandleJoin", func() {
		Context("when exactly one inviter gained a use", func() {
			It("credits that inviter and emits a normal join", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 0)
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 4, "B", 0), nil
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())

				Expect(out.ID).NotTo(BeZero())
				Expect(out.JoinType).To(Equal(model.JoinTypeNormal))
				Expect(out.Inviter.UserID()).To(Equal("A"))
				Expect(out.Inviter.User.Username).To(Equal("alice"))
				Expect(out.Invites.Regular).To(Equal([]string{"A"}))
				Expect(out.Summary.Total).To(Equal(1))
				Expect(out.OccurredAt).To(Equal(now))
				Expect(vanity.calls).To(BeZero())

				credit, err := led.GetCredit(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(credit.UserID()).To(Equal("A"))

				Expect(listener.joins).To(HaveLen(1))
				Expect(listener.joins[0].ID).To(Equal(out.ID))
			})
		})

		Context("when an existing and a new inviter both show a delta of one", func() {
			It("returns a single result following listing order", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 0)
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 4, "B", 1), nil
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.UserID()).To(Equal("A"))
				Expect(out.Invites.Regular).To(Equal([]string{"A"}))
			})
		})

		Context("when the community was never snapshotted", func() {
			It("compares against an empty snapshot", func() {
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("B", 1), nil
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.UserID()).To(Equal("B"))

				snap, _, known := cached("g1")
				Expect(known).To(BeTrue())
				Expect(snap.Uses("B")).To(Equal(1))
			})
		})

		Context("when only the vanity counter moved", func() {
			It("credits vanity without a ledger entry", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 5)
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 3), nil
				}
				vanity.usesFn = func(context.Context, string) (int, bool, error) { return 6, true, nil }

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsVanity()).To(BeTrue())
				Expect(out.JoinType).To(Equal(model.JoinTypeVanity))
				Expect(out.Invites.Regular).To(BeEmpty())

				credit, err := led.GetCredit(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(credit.IsVanity()).To(BeTrue())

				_, vanityUses, _ := cached("g1")
				Expect(vanityUses).To(Equal(6))
			})
		})

		Context("when nothing matches", func() {
			It("credits unknown and still replaces the snapshot", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 0)
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 5), nil
				}
				vanity.usesFn = func(context.Context, string) (int, bool, error) {
					return 0, false, errors.New("vanity lookup failed")
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsUnknown()).To(BeTrue())
				Expect(out.JoinType).To(Equal(model.JoinTypeUnknown))
				Expect(out.Invites.Regular).To(BeEmpty())

				snap, _, _ := cached("g1")
				Expect(snap.Uses("A")).To(Equal(5))
				Expect(listener.joins).To(HaveLen(1))
			})
		})

		Context("when a vanity read fails between joins", func() {
			It("keeps the cached counter so an unchanged reading is not credited to vanity", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 5)
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 3), nil
				}
				vanity.usesFn = func(context.Context, string) (int, bool, error) {
					return 0, false, errors.New("vanity lookup failed")
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsUnknown()).To(BeTrue())

				_, vanityUses, _ := cached("g1")
				Expect(vanityUses).To(Equal(5))

				vanity.usesFn = func(context.Context, string) (int, bool, error) { return 5, true, nil }
				second := model.Member{CommunityID: "g1", User: model.User{ID: "m2"}}

				out, err = rec.HandleJoin(ctx, second)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsUnknown()).To(BeTrue())
				Expect(out.JoinType).To(Equal(model.JoinTypeUnknown))
			})
		})

		Context("when the vanity counter was never read", func() {
			It("primes the counter on the first successful read", func() {
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 3), nil
				}
				vanity.usesFn = func(context.Context, string) (int, bool, error) {
					return 0, false, errors.New("vanity lookup failed")
				}
				rec.Warm(ctx, []string{"g1"})

				vanity.usesFn = func(context.Context, string) (int, bool, error) { return 5, true, nil }
				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsUnknown()).To(BeTrue())

				_, vanityUses, _ := cached("g1")
				Expect(vanityUses).To(Equal(5))

				vanity.usesFn = func(context.Context, string) (int, bool, error) { return 6, true, nil }
				second := model.Member{CommunityID: "g1", User: model.User{ID: "m2"}}

				out, err = rec.HandleJoin(ctx, second)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsVanity()).To(BeTrue())
			})
		})

		Context("when the platform refuses to list invites", func() {
			It("emits a permissions join and keeps the snapshot", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 0)
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return nil, fmt.Errorf("listing g1: %w", reconciler.ErrMissingPermissions)
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.JoinType).To(Equal(model.JoinTypePermissions))
				Expect(out.Inviter.IsUnknown()).To(BeTrue())

				snap, _, _ := cached("g1")
				Expect(snap.Uses("A")).To(Equal(3))
			})
		})

		Context("when listing invites stalls", func() {
			It("gives up after the timeout and attributes unknown", func() {
				lister.listFn = func(ctx context.Context, _ string) ([]model.InviteUsage, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}

				out, err := rec.HandleJoin(ctx, member)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Inviter.IsUnknown()).To(BeTrue())
				Expect(out.JoinType).To(Equal(model.JoinTypeUnknown))

				_, _, known := cached("g1")
				Expect(known).To(BeFalse())
			})
		})

		Context("when listing invites fails", func() {
			It("aborts without emitting or touching state", func() {
				snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 0)
				boom := errors.New("502 bad gateway")
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) { return nil, boom }

				_, err := rec.HandleJoin(ctx, member)
				Expect(err).To(MatchError(boom))
				Expect(listener.joins).To(BeEmpty())

				snap, _, _ := cached("g1")
				Expect(snap.Uses("A")).To(Equal(3))
				Expect(kv.Len()).To(BeZero())
			})
		})

		Context("when persisting credit fails", func() {
			It("returns the error and emits nothing", func() {
				lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
					return usages("A", 1), nil
				}
				kv.setErr = errors.New("redis down")

				_, err := rec.HandleJoin(ctx, member)
				Expect(err).To(MatchError(kv.setErr))
				Expect(listener.joins).To(BeEmpty())
			})
		})

		It("does not fail when a listener fails", func() {
			listener.err = errors.New("stream full")
			lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
				return usages("A", 1), nil
			}

			_, err := rec.HandleJoin(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(listener.joins).To(HaveLen(1))
		})

		It("rejects a member without a user", func() {
			_, err := rec.HandleJoin(ctx, model.Member{CommunityID: "g1"})
			Expect(err).To(MatchError(ledger.ErrInvalidMember))
			Expect(lister.calls).To(BeZero())
		})

		It("serializes concurrent joins in one community", func() {
			var (
				mu   sync.Mutex
				uses int
			)
			snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 0}), 0)
			lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
				mu.Lock()
				defer mu.Unlock()
				uses++
				time.Sleep(time.Millisecond)
				return usages("A", uses), nil
			}

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					m := model.Member{CommunityID: "g1", User: model.User{ID: fmt.Sprintf("m%d", i)}}
					out, err := rec.HandleJoin(ctx, m)
					Expect(err).NotTo(HaveOccurred())
					Expect(out.Inviter.UserID()).To(Equal("A"))
				}(i)
			}
			wg.Wait()

			Expect(listener.joins).To(HaveLen(10))
		})
	})

	Describe("HandleLeave", func() {
		BeforeEach(func() {
			lister.listFn = func(context.Context, string) ([]model.InviteUsage, error) {
				return usages("A", 1), nil
			}
			_, err := rec.HandleJoin(ctx, member)
			Expect(err).NotTo(HaveOccurred())
		})

		It("emits the ledger as it was and moves the invite to leave", func() {
			out, err := rec.HandleLeave(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Invites.Regular).To(Equal([]string{"A"}))
			Expect(out.Summary.Total).To(Equal(1))
			Expect(out.Inviter.UserID()).To(Equal("A"))

			l, err := led.Read(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Regular).To(BeEmpty())
			Expect(l.Leave).To(Equal([]string{"A"}))
			Expect(listener.leaves).To(HaveLen(1))
		})

		It("leaves the ledger alone when the inviter can no longer be resolved", func() {
			delete(resolver.users, "A")

			out, err := rec.HandleLeave(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Inviter.IsUnknown()).To(BeTrue())

			l, err := led.Read(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Regular).To(Equal([]string{"A"}))
			Expect(l.Leave).To(BeEmpty())
		})

		It("does not move vanity credit", func() {
			other := model.Member{CommunityID: "g1", User: model.User{ID: "m2"}}
			Expect(led.SetCredit(ctx, other, model.VanityInviter())).To(Succeed())

			out, err := rec.HandleLeave(ctx, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Inviter.IsVanity()).To(BeTrue())

			l, err := led.Read(ctx, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Leave).To(BeEmpty())
		})

		It("emits nothing when the move cannot be persisted", func() {
			kv.setErr = errors.New("redis down")

			_, err := rec.HandleLeave(ctx, member)
			Expect(err).To(HaveOccurred())
			Expect(listener.leaves).To(BeEmpty())
		})
	})

	Describe("Purge", func() {
		It("removes one entry per category and one bonus", func() {
			_, err := led.Add(ctx, member, model.InviteLedger{
				Regular: []string{"A", "A", "B"},
				Bonus:   2,
				Fake:    []string{"A"},
				Leave:   []string{"A"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(led.SetCredit(ctx, member, model.UserInviter(model.User{ID: "A"}))).To(Succeed())

			l, err := rec.Purge(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Regular).To(Equal([]string{"A", "B"}))
			Expect(l.Bonus).To(Equal(1))
			Expect(l.Fake).To(BeEmpty())
			Expect(l.Leave).To(BeEmpty())
		})

		It("does nothing for unknown credit", func() {
			_, err := led.AddBonus(ctx, member, 3)
			Expect(err).NotTo(HaveOccurred())

			l, err := rec.Purge(ctx, member)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Bonus).To(Equal(3))
		})
	})

	Describe("Forget", func() {
		It("drops the cached snapshot", func() {
			snaps.Set("g1", model.SnapshotOf(model.UsageCount{InviterID: "A", Uses: 3}), 0)
			rec.Forget("g1")
			Expect(snaps.Known("g1")).To(BeFalse())
		})
	})
})

var _ = Describe("Listeners", func() {
	It("fans out to every listener and joins their errors", func() {
		first := &recordingListener{err: errors.New("first")}
		second := &recordingListener{}
		var seen []string

		ls := reconciler.Listeners{first, second, reconciler.ListenerFuncs{
			OnMemberLeft: func(_ context.Context, rec model.LeaveRecord) error {
				seen = append(seen, rec.Member.ID())
				return nil
			},
		}}

		err := ls.MemberLeft(context.Background(), model.LeaveRecord{Member: model.Member{User: model.User{ID: "m1"}}})
		Expect(err).To(MatchError(first.err))
		Expect(first.leaves).To(HaveLen(1))
		Expect(second.leaves).To(HaveLen(1))
		Expect(seen).To(Equal([]string{"m1"}))

		Expect(ls.CacheFetched(context.Background(), []string{"g1"})).To(MatchError(first.err))
		Expect(second.fetched).To(HaveLen(1))
	})

	It("skips unset funcs", func() {
		var f reconciler.ListenerFuncs
		Expect(f.MemberJoined(context.Background(), model.JoinRecord{})).To(Succeed())
	})
})
