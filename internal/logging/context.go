package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	conversationKey ctxKey = iota
	requesterKey
	requestKey
	stageKey
)

// validID bounds correlation ids to 128 characters of [A-Za-z0-9_-].
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ContextFields returns the correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, f := range []struct {
		key  ctxKey
		name string
	}{
		{conversationKey, "conversation.id"},
		{requesterKey, "requester.id"},
		{requestKey, "request.id"},
		{stageKey, "stage"},
	} {
		if v, _ := ctx.Value(f.key).(string); v != "" {
			fields = append(fields, zap.String(f.name, v))
		}
	}
	return fields
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if !validID.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

// WithConversationID tags ctx with a conversation. Malformed ids are ignored.
func WithConversationID(ctx context.Context, id string) context.Context {
	return withID(ctx, conversationKey, id)
}

// WithRequesterID tags ctx with the asking principal. Malformed ids are
// ignored.
func WithRequesterID(ctx context.Context, id string) context.Context {
	return withID(ctx, requesterKey, id)
}

// WithRequestID tags ctx with an inbound request id. Malformed ids are
// ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestKey, id)
}

// WithStage tags ctx with the pipeline stage being executed.
func WithStage(ctx context.Context, stage string) context.Context {
	return withID(ctx, stageKey, stage)
}

// ConversationIDFromContext returns the conversation id on ctx, if any.
func ConversationIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(conversationKey).(string)
	return s
}
