package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"inviteledger.app/tracker/internal/model"
	"inviteledger.app/tracker/internal/queue"
	"inviteledger.app/tracker/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		consumer *mockConsumer
		handler  *mockHandler
		w        *worker.Worker
	)

	BeforeEach(func() {
		consumer = &mockConsumer{}
		handler = &mockHandler{}
		w = worker.New(consumer, handler, worker.Config{MaxAttempts: 3, ErrorBackoff: time.Millisecond})
	})

	// runBatch delivers msgs once, then cancels Run.
	runBatch := func(msgs ...queue.Message) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		delivered := false
		consumer.readFn = func(context.Context) ([]queue.Message, error) {
			if delivered {
				cancel()
				return nil, nil
			}
			delivered = true
			return msgs, nil
		}

		err := w.Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
	}

	Describe("ProcessMessage", func() {
		It("routes joins to the handler with the member", func() {
			var got model.Member
			handler.joinFn = func(_ context.Context, m model.Member) (model.JoinRecord, error) {
				got = m
				return model.JoinRecord{}, nil
			}

			err := w.ProcessMessage(context.Background(), queue.Message{
				ID: "1-0", EventType: queue.EventTypeMemberJoined, CommunityID: "g1", MemberID: "m1", Username: "mia",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(model.Member{CommunityID: "g1", User: model.User{ID: "m1", Username: "mia"}}))
		})

		It("routes ready to warm-up", func() {
			var ids []string
			handler.warmFn = func(_ context.Context, got []string) { ids = got }

			err := w.ProcessMessage(context.Background(), queue.Message{EventType: queue.EventTypeReady, CommunityIDs: []string{"g1", "g2"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"g1", "g2"}))
		})

		It("returns leave failures", func() {
			boom := errors.New("redis down")
			handler.leaveFn = func(context.Context, model.Member) (model.LeaveRecord, error) {
				return model.LeaveRecord{}, boom
			}

			err := w.ProcessMessage(context.Background(), queue.Message{EventType: queue.EventTypeMemberLeft, CommunityID: "g1", MemberID: "m1"})
			Expect(err).To(MatchError(boom))
		})

		It("rejects unknown event types", func() {
			err := w.ProcessMessage(context.Background(), queue.Message{EventType: "member_banned"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		It("acks processed messages", func() {
			runBatch(
				queue.Message{ID: "1-0", EventType: queue.EventTypeMemberJoined, CommunityID: "g1", MemberID: "m1", Attempt: 1},
				queue.Message{ID: "2-0", EventType: queue.EventTypeMemberLeft, CommunityID: "g1", MemberID: "m1", Attempt: 1},
			)

			Expect(consumer.acked).To(Equal([]string{"1-0", "2-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("requeues failures below the attempt limit", func() {
			handler.leaveFn = func(context.Context, model.Member) (model.LeaveRecord, error) {
				return model.LeaveRecord{}, errors.New("reading ledger: redis down")
			}

			runBatch(queue.Message{ID: "1-0", EventType: queue.EventTypeMemberLeft, CommunityID: "g1", MemberID: "m1", Attempt: 2})

			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
			Expect(consumer.reasons).To(ConsistOf(ContainSubstring("redis down")))
			Expect(consumer.acked).To(BeEmpty())
		})

		It("dead-letters failures at the attempt limit", func() {
			handler.leaveFn = func(context.Context, model.Member) (model.LeaveRecord, error) {
				return model.LeaveRecord{}, errors.New("reading ledger: redis down")
			}

			runBatch(queue.Message{ID: "1-0", EventType: queue.EventTypeMemberLeft, CommunityID: "g1", MemberID: "m1", Attempt: 3})

			Expect(consumer.dlq).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
		})

		It("dead-letters a failed join on its first attempt instead of retrying it", func() {
			joins := 0
			handler.joinFn = func(context.Context, model.Member) (model.JoinRecord, error) {
				joins++
				return model.JoinRecord{}, errors.New("writing credit: redis down")
			}

			runBatch(queue.Message{ID: "1-0", EventType: queue.EventTypeMemberJoined, CommunityID: "g1", MemberID: "m1", Attempt: 1})

			Expect(joins).To(Equal(1))
			Expect(consumer.dlq).To(Equal([]string{"1-0"}))
			Expect(consumer.requeued).To(BeEmpty())
			Expect(consumer.acked).To(BeEmpty())
			Expect(consumer.reasons).To(ConsistOf(ContainSubstring("writing credit")))
		})

		It("recovers from a panicking handler", func() {
			handler.leaveFn = func(context.Context, model.Member) (model.LeaveRecord, error) {
				panic("nil map")
			}

			runBatch(queue.Message{ID: "1-0", EventType: queue.EventTypeMemberLeft, CommunityID: "g1", MemberID: "m1", Attempt: 1})

			Expect(consumer.requeued).To(Equal([]string{"1-0"}))
			Expect(consumer.reasons).To(ConsistOf(ContainSubstring("panic")))
		})

		It("backs off and keeps going after a read error", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			reads := 0
			consumer.readFn = func(context.Context) ([]queue.Message, error) {
				reads++
				if reads == 1 {
					return nil, errors.New("connection refused")
				}
				cancel()
				return nil, nil
			}

			Expect(w.Run(ctx)).To(MatchError(context.Canceled))
			Expect(reads).To(Equal(2))
		})
	})

	Describe("Stop", func() {
		It("returns once Run exits", func() {
			consumer.readFn = func(context.Context) ([]queue.Message, error) {
				time.Sleep(time.Millisecond)
				return nil, nil
			}

			done := make(chan error, 1)
			go func() { done <- w.Run(context.Background()) }()

			w.Stop()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
