package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

// conversationMetrics count lifecycle transitions.
type conversationMetrics struct {
	started   metric.Int64Counter
	suspended metric.Int64Counter
	resumed   metric.Int64Counter
	conflicts metric.Int64Counter
	finished  metric.Int64Counter
}

func newConversationMetrics(m metric.Meter, logger *logging.Logger) *conversationMetrics {
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			logger.Warn(context.Background(), "metric registration failed", zap.String("metric", name), zap.Error(err))
		}
		if c == nil {
			return noop.Int64Counter{}
		}
		return c
	}
	return &conversationMetrics{
		started:   counter("askd.conversations.started", "Conversations created", "{conversation}"),
		suspended: counter("askd.conversations.suspended", "Suspensions at an approval gate", "{suspension}"),
		resumed:   counter("askd.conversations.resumed", "Decisions that resumed a conversation", "{resume}"),
		conflicts: counter("askd.conversations.conflicts", "Operations refused because of the conversation state", "{conflict}"),
		finished:  counter("askd.conversations.finished", "Conversations that reached a terminal status", "{conversation}"),
	}
}
