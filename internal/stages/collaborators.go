package stages

import (
	"context"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// Understander extracts intent, entities, keywords and source hints.
type Understander interface {
	Understand(ctx context.Context, query string) (conversation.Understanding, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs a vector similarity search with metadata filters pushed
// down to the store.
type Retriever interface {
	Search(ctx context.Context, vector []float32, filters conversation.SearchFilters, limit int) ([]conversation.Candidate, error)
}

// Generator writes an answer from the supplied results.
type Generator interface {
	Synthesize(ctx context.Context, query string, results []conversation.Candidate) (conversation.Answer, error)
}

// HistoryStore keeps the rolling query history used for gap detection.
type HistoryStore interface {
	// Append writes rec. Writes with the same rec.ID overwrite.
	Append(ctx context.Context, rec conversation.HistoryRecord) error
	QueryStats(ctx context.Context, q conversation.StatsQuery) (conversation.TopicStats, error)
	PublishGap(ctx context.Context, s conversation.GapSuggestion) error
}
