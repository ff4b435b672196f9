package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/qdrant"
)

var tracer = otel.Tracer("askd.retrieval")

// DefaultCollection is the knowledge base collection name.
const DefaultCollection = "knowledge_base"

// keyDocumentID keeps the caller's document id when it is not a UUID.
const keyDocumentID = "id"

// documentNamespace derives point ids from non-UUID document ids.
var documentNamespace = uuid.MustParse("6f1d1f4e-3c51-4a0e-9a55-5b1f0a9b3c11")

// QdrantRetriever searches a Qdrant collection.
type QdrantRetriever struct {
	client     qdrant.Client
	collection string
	logger     *logging.Logger
}

// NewQdrantRetriever returns a retriever over collection.
func NewQdrantRetriever(client qdrant.Client, collection string, logger *logging.Logger) (*QdrantRetriever, error) {
	if client == nil {
		return nil, fmt.Errorf("qdrant client is required")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QdrantRetriever{client: client, collection: collection, logger: logger.Named("retrieval")}, nil
}

// Search returns up to limit candidates nearest to vector. Source hints
// are pushed down as a match-any condition on the source field.
func (r *QdrantRetriever) Search(ctx context.Context, vector []float32, filters conversation.SearchFilters, limit int) ([]conversation.Candidate, error) {
	ctx, span := tracer.Start(ctx, "QdrantRetriever.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", r.collection),
		attribute.Int("limit", limit),
		attribute.Int("sources", len(filters.Sources)),
	)

	if limit <= 0 {
		return nil, &conversation.ValidationError{Field: "limit", Reason: "must be positive"}
	}

	var filter *qdrant.Filter
	if len(filters.Sources) > 0 {
		filter = &qdrant.Filter{Must: []qdrant.Condition{{Field: keySource, AnyOf: filters.Sources}}}
	}

	points, err := r.client.Search(ctx, r.collection, vector, uint64(limit), filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", r.collection, err)
	}

	out := make([]conversation.Candidate, 0, len(points))
	for _, p := range points {
		id := p.ID
		if original := stringOf(p.Payload[keyDocumentID]); original != "" {
			id = original
		}
		out = append(out, candidateFromPayload(id, p.Score, p.Payload))
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	r.logger.Debug(ctx, "searched knowledge base",
		zap.String("collection", r.collection),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// Index upserts docs, creating the collection on first use.
func (r *QdrantRetriever) Index(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "QdrantRetriever.Index")
	defer span.End()

	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.Point, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			return err
		}
		payload := d.payload()
		payload[keyDocumentID] = d.ID
		points = append(points, &qdrant.Point{ID: pointID(d.ID), Vector: d.Vector, Payload: payload})
	}

	if err := qdrant.EnsureCollection(ctx, r.client, r.collection, uint64(len(docs[0].Vector))); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ensuring collection %s: %w", r.collection, err)
	}
	if err := r.client.Upsert(ctx, r.collection, points); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting into %s: %w", r.collection, err)
	}

	r.logger.Info(ctx, "documents indexed", zap.String("collection", r.collection), zap.Int("count", len(points)))
	return nil
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(documentNamespace, []byte(id)).String()
}
