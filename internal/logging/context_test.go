package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Key] = f.String
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Correlation(t *testing.T) {
	ctx := WithConversationID(context.Background(), "conv_123")
	ctx = WithRequesterID(ctx, "alice")
	ctx = WithRequestID(ctx, "req-9")
	ctx = WithStage(ctx, "filter")

	assert.Equal(t, map[string]string{
		"conversation.id": "conv_123",
		"requester.id":    "alice",
		"request.id":      "req-9",
		"stage":           "filter",
	}, fieldMap(ContextFields(ctx)))
	assert.Equal(t, "conv_123", ConversationIDFromContext(ctx))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "stage.search")
	defer span.End()

	m := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), m["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), m["span_id"])
}

func TestWithConversationID_IgnoresMalformed(t *testing.T) {
	for _, id := range []string{"", "has space", "semi;colon", strings.Repeat("a", 129), "ü"} {
		ctx := WithConversationID(context.Background(), id)
		assert.Empty(t, ConversationIDFromContext(ctx), "id %q", id)
	}
	ctx := WithConversationID(context.Background(), "ok")
	ctx = WithConversationID(ctx, "not ok")
	require.Equal(t, "ok", ConversationIDFromContext(ctx))
}
