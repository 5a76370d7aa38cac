package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers enrich the context once (community, member, event type) and every log
// statement further down the call chain carries them.
type LogFields struct {
	CommunityID *string // Guild the event belongs to
	MemberID    *string // Member that joined or left
	InviterID   *string // Attributed inviter, once known
	MessageID   *string // Redis stream message ID
	EventType   *string // e.g. "member_joined", "member_left"
	Component   string  // Component name, e.g. "tracker.reconciler"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.CommunityID != nil {
		result.CommunityID = next.CommunityID
	}
	if next.MemberID != nil {
		result.MemberID = next.MemberID
	}
	if next.InviterID != nil {
		result.InviterID = next.InviterID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.EventType != nil {
		result.EventType = next.EventType
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{MemberID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}
