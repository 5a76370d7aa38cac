// Package worker feeds member events from a Redis stream into the reconciler,
// for deployments where a separate process owns the gateway connection.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inviteledger.app/tracker/common/logger"
	"inviteledger.app/tracker/internal/queue"
)

type Config struct {
	MaxAttempts int
	// ErrorBackoff is how long Run pauses after a failed read.
	ErrorBackoff time.Duration
}

// Worker processes messages one at a time, in stream order, so joins for a
// community are reconciled in the order they were published.
type Worker struct {
	consumer Consumer
	handler  EventHandler
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, handler EventHandler, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		handler:   handler,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "tracker.worker"})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(w.cfg.ErrorBackoff):
				}
			}
		}
	}
}

// Stop asks Run to return after the current batch and waits for it.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		msgCtx := logger.WithLogFields(ctx, logger.LogFields{
			MessageID: logger.Ptr(msg.ID),
			EventType: logger.Ptr(string(msg.EventType)),
		})

		if err := w.processMessageSafe(msgCtx, msg); err != nil {
			slog.ErrorContext(msgCtx, "message processing failed",
				"error", err,
				"attempt", msg.Attempt)
			w.handleFailedMessage(msgCtx, msg, err)
			continue
		}

		if err := w.consumer.Ack(msgCtx, msg); err != nil {
			slog.WarnContext(msgCtx, "failed to ACK message", "error", err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage applies one member event. It does not ack.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message")
	defer sc.End()
	ctx = sc.Context()

	slog.DebugContext(ctx, "processing message", "attempt", msg.Attempt)

	var err error
	switch msg.EventType {
	case queue.EventTypeReady:
		w.handler.Warm(ctx, msg.CommunityIDs)
	case queue.EventTypeMemberJoined:
		_, err = w.handler.HandleJoin(ctx, msg.Member())
	case queue.EventTypeMemberLeft:
		_, err = w.handler.HandleLeave(ctx, msg.Member())
	default:
		err = fmt.Errorf("unsupported event type %q", msg.EventType)
	}

	if err != nil {
		sc.RecordError(err)
	}
	return err
}

// handleFailedMessage never retries a join: the failed attempt has already
// replaced the community snapshot, so a retry would see no delta and credit
// unknown over the real inviter.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.EventType == queue.EventTypeMemberJoined {
		slog.ErrorContext(ctx, "join failed, sending to DLQ", "attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ", "attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
