package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/qdrant"
)

var tracer = otel.Tracer("askd.history")

// gapNamespace derives point ids from gap suggestion ids.
var gapNamespace = uuid.MustParse("0b7e4c62-9f1a-5d3e-8c2b-4a6f1e9d7c35")

// QdrantConfig configures QdrantStore.
type QdrantConfig struct {
	ConversationsCollection string
	GapsCollection          string
	// SimilarityThreshold is the minimum score for a past query to count
	// towards the topic of the current one.
	SimilarityThreshold float64
	// StatsLimit caps the neighbours considered per stats query.
	StatsLimit int
}

// DefaultQdrantConfig returns the collection names and a 0.85 threshold
// over the 20 nearest neighbours.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		ConversationsCollection: "conversations",
		GapsCollection:          "knowledge_gaps",
		SimilarityThreshold:     0.85,
		StatsLimit:              20,
	}
}

// QdrantStore keeps history in Qdrant.
type QdrantStore struct {
	client qdrant.Client
	cfg    QdrantConfig
	logger *logging.Logger

	// ensured records collections known to exist.
	ensured sync.Map
}

// NewQdrantStore returns a store over client. Collections are created on
// first write.
func NewQdrantStore(client qdrant.Client, cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	if client == nil {
		return nil, fmt.Errorf("qdrant client is required")
	}
	def := DefaultQdrantConfig()
	if cfg.ConversationsCollection == "" {
		cfg.ConversationsCollection = def.ConversationsCollection
	}
	if cfg.GapsCollection == "" {
		cfg.GapsCollection = def.GapsCollection
	}
	if cfg.StatsLimit <= 0 {
		cfg.StatsLimit = def.StatsLimit
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, &conversation.ConfigurationError{Key: "gaps.similarity_threshold", Reason: fmt.Sprintf("must be within [0,1], got %g", cfg.SimilarityThreshold)}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QdrantStore{client: client, cfg: cfg, logger: logger.Named("history")}, nil
}

// Append upserts rec keyed by rec.ID, so a repeated write overwrites.
func (s *QdrantStore) Append(ctx context.Context, rec conversation.HistoryRecord) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Append")
	defer span.End()

	if len(rec.Embedding) == 0 {
		return &conversation.ValidationError{Field: "record.embedding", Reason: "must not be empty"}
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return &conversation.ValidationError{Field: "record.id", Reason: "must be a UUID"}
	}

	point := &qdrant.Point{
		ID:     rec.ID,
		Vector: rec.Embedding,
		Payload: map[string]any{
			"conversation_id":    rec.ConversationID,
			"query":              rec.Query,
			"topic_key":          rec.TopicKey,
			"intent":             rec.Intent,
			"entities":           nonNil(rec.Entities),
			"results_count":      rec.ResultCount,
			"top_result_score":   float64(rec.TopScore),
			"sources_used":       nonNil(rec.SourcesUsed),
			"triggered_approval": rec.ApprovalRequired,
			"approval_granted":   rec.ApprovalGranted,
			"gap_detected":       rec.GapDetected,
			"response_time_ms":   rec.ResponseTime.Milliseconds(),
			"user_id":            rec.RequesterID,
			"timestamp":          rec.Timestamp.Unix(),
		},
	}
	if err := s.upsert(ctx, s.cfg.ConversationsCollection, point); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// QueryStats aggregates the nearest past queries inside the window whose
// similarity reaches the threshold.
func (s *QdrantStore) QueryStats(ctx context.Context, q conversation.StatsQuery) (conversation.TopicStats, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.QueryStats")
	defer span.End()

	since := float64(q.Now.Add(-q.Window).Unix())
	until := float64(q.Now.Unix())
	filter := &qdrant.Filter{Must: []qdrant.Condition{
		{Field: "timestamp", Range: &qdrant.Range{Gte: &since, Lte: &until}},
	}}

	if len(q.Embedding) == 0 {
		return conversation.TopicStats{}, &conversation.ValidationError{Field: "stats.embedding", Reason: "must not be empty"}
	}
	threshold := float32(s.cfg.SimilarityThreshold)

	points, err := s.client.Search(ctx, s.cfg.ConversationsCollection, q.Embedding, uint64(s.cfg.StatsLimit), filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return conversation.TopicStats{}, fmt.Errorf("searching %s: %w", s.cfg.ConversationsCollection, err)
	}

	var agg aggregate
	for _, p := range points {
		if p.Score < threshold {
			continue
		}
		agg.add(stringOf(p.Payload["user_id"]), floatOf(p.Payload["top_result_score"]))
	}
	stats := agg.stats()

	span.SetAttributes(
		attribute.Int("neighbours", len(points)),
		attribute.Int("request_count", stats.RequestCount),
	)
	s.logger.Debug(ctx, "topic stats computed",
		zap.Int("neighbours", len(points)),
		zap.Int("request_count", stats.RequestCount),
		zap.Float64("avg_top_score", stats.AvgTopScore),
	)
	return stats, nil
}

// PublishGap upserts g into the gaps collection, keyed by g.ID.
func (s *QdrantStore) PublishGap(ctx context.Context, g conversation.GapSuggestion) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.PublishGap")
	defer span.End()

	if len(g.Embedding) == 0 {
		return &conversation.ValidationError{Field: "gap.embedding", Reason: "must not be empty"}
	}
	point := &qdrant.Point{
		ID:     uuid.NewSHA1(gapNamespace, []byte(g.ID)).String(),
		Vector: g.Embedding,
		Payload: map[string]any{
			"id":                g.ID,
			"conversation_id":   g.ConversationID,
			"topic":             g.Topic,
			"topic_key":         g.TopicKey,
			"query_pattern":     g.QueryPattern,
			"priority":          string(g.Priority),
			"suggested_action":  g.SuggestedAction,
			"title":             g.SuggestedContent.Title,
			"topics":            nonNil(g.SuggestedContent.Topics),
			"questions":         nonNil(g.SuggestedContent.QuestionsToAnswer),
			"request_count":     g.RequestCount,
			"avg_top_score":     g.AvgTopScore,
			"unique_requesters": g.UniqueRequesters,
			"source_count":      g.SourceCount,
			"detected_at":       g.DetectedAt.Unix(),
			"status":            "open",
		},
	}
	if err := s.upsert(ctx, s.cfg.GapsCollection, point); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.Info(ctx, "knowledge gap published",
		zap.String("gap_id", g.ID),
		zap.String("priority", string(g.Priority)),
	)
	return nil
}

func (s *QdrantStore) upsert(ctx context.Context, collection string, p *qdrant.Point) error {
	if _, ok := s.ensured.Load(collection); !ok {
		if err := qdrant.EnsureCollection(ctx, s.client, collection, uint64(len(p.Vector))); err != nil {
			return fmt.Errorf("ensuring collection %s: %w", collection, err)
		}
		s.ensured.Store(collection, struct{}{})
	}
	if err := s.client.Upsert(ctx, collection, []*qdrant.Point{p}); err != nil {
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func floatOf(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int64:
		return float64(f)
	}
	return 0
}
