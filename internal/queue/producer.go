package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"inviteledger.app/tracker/internal/model"
)

// FactPublisher appends every reconciler result to a Redis stream. It is a
// reconciler.Listener.
type FactPublisher struct {
	client redis.Cmdable
	stream string
}

func NewFactPublisher(client redis.Cmdable, stream string) *FactPublisher {
	return &FactPublisher{client: client, stream: stream}
}

func (p *FactPublisher) CacheFetched(ctx context.Context, communityIDs []string) error {
	return p.publish(ctx, FactCacheFetched, map[string]any{
		"community_ids": strings.Join(communityIDs, ","),
	})
}

func (p *FactPublisher) MemberJoined(ctx context.Context, rec model.JoinRecord) error {
	values, err := joinValues(rec)
	if err != nil {
		return err
	}
	return p.publish(ctx, FactMemberAdd, values)
}

func (p *FactPublisher) MemberLeft(ctx context.Context, rec model.LeaveRecord) error {
	values, err := leaveValues(rec)
	if err != nil {
		return err
	}
	return p.publish(ctx, FactMemberRemove, values)
}

func (p *FactPublisher) publish(ctx context.Context, fact Fact, values map[string]any) error {
	values["fact"] = string(fact)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		values["trace_id"] = sc.TraceID().String()
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", fact, err)
	}

	slog.DebugContext(ctx, "fact published", "fact", fact, "stream", p.stream)
	return nil
}

func joinValues(rec model.JoinRecord) (map[string]any, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding join record: %w", err)
	}

	values := recordValues(rec.ID, rec.CommunityID, rec.Member, rec.Inviter, payload)
	values["join_type"] = string(rec.JoinType)
	return values, nil
}

func leaveValues(rec model.LeaveRecord) (map[string]any, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding leave record: %w", err)
	}
	return recordValues(rec.ID, rec.CommunityID, rec.Member, rec.Inviter, payload), nil
}

func recordValues(id int64, communityID string, m model.Member, inviter model.Inviter, payload []byte) map[string]any {
	values := map[string]any{
		"record_id":    strconv.FormatInt(id, 10),
		"community_id": communityID,
		"member_id":    m.ID(),
		"inviter_kind": string(inviter.Kind),
		"payload":      string(payload),
	}
	if inviter.IsUser() {
		values["inviter_id"] = inviter.UserID()
	}
	if inviter.Kind == "" {
		values["inviter_kind"] = string(model.InviterKindUnknown)
	}
	return values
}
