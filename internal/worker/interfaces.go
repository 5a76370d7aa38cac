package worker

import (
	"context"

	"inviteledger.app/tracker/internal/model"
	"inviteledger.app/tracker/internal/queue"
)

// Consumer abstracts the member events stream for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// EventHandler applies member events; *reconciler.Reconciler satisfies it.
type EventHandler interface {
	Warm(ctx context.Context, communityIDs []string)
	HandleJoin(ctx context.Context, m model.Member) (model.JoinRecord, error)
	HandleLeave(ctx context.Context, m model.Member) (model.LeaveRecord, error)
}
