package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
)

var errNoEmbeddingFunc = errors.New("chromem collection only accepts precomputed embeddings")

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the store in memory.
	Path       string
	Compress   bool
	Collection string
}

// ChromemRetriever searches an embedded chromem-go collection.
type ChromemRetriever struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *logging.Logger
}

// NewChromemRetriever opens (or creates) the store described by cfg.
func NewChromemRetriever(cfg ChromemConfig, logger *logging.Logger) (*ChromemRetriever, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	return &ChromemRetriever{db: db, collection: collection, logger: logger.Named("retrieval")}, nil
}

// Search returns up to limit candidates nearest to vector. chromem's where
// filter matches a single value, so each source hint is queried separately
// and the results are merged by similarity.
func (r *ChromemRetriever) Search(ctx context.Context, vector []float32, filters conversation.SearchFilters, limit int) ([]conversation.Candidate, error) {
	ctx, span := tracer.Start(ctx, "ChromemRetriever.Search")
	defer span.End()

	if limit <= 0 {
		return nil, &conversation.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	n := min(limit, r.collection.Count())
	if n == 0 {
		return []conversation.Candidate{}, nil
	}

	wheres := []map[string]string{nil}
	if len(filters.Sources) > 0 {
		wheres = wheres[:0]
		for _, s := range filters.Sources {
			wheres = append(wheres, map[string]string{keySource: s})
		}
	}

	var results []chromem.Result
	for _, where := range wheres {
		res, err := r.collection.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("querying collection: %w", err)
		}
		results = append(results, res...)
	}
	slices.SortStableFunc(results, func(a, b chromem.Result) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]conversation.Candidate, 0, len(results))
	for _, res := range results {
		out = append(out, candidateFromPayload(res.ID, res.Similarity, metadataToPayload(res.Content, res.Metadata)))
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	r.logger.Debug(ctx, "searched embedded knowledge base", zap.Int("results", len(out)))
	return out, nil
}

// Index adds docs to the collection. Documents with an existing id are replaced.
func (r *ChromemRetriever) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	chromemDocs := make([]chromem.Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			return err
		}
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: d.Vector,
			Metadata:  payloadToMetadata(d.payload()),
		})
		ids = append(ids, d.ID)
	}

	if err := r.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("replacing documents: %w", err)
	}
	if err := r.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	r.logger.Info(ctx, "documents indexed", zap.Int("count", len(chromemDocs)))
	return nil
}

// Count returns the number of indexed documents.
func (r *ChromemRetriever) Count() int {
	return r.collection.Count()
}

// payloadToMetadata flattens a document payload into chromem's string
// metadata. Content is stored as the document body.
func payloadToMetadata(payload map[string]any) map[string]string {
	md := map[string]string{
		keyTitle:  stringOf(payload[keyTitle]),
		keySource: stringOf(payload[keySource]),
		keyURL:    stringOf(payload[keyURL]),
	}
	perms, _ := payload[keyPermissions].(map[string]any)
	md[keySensitivity] = stringOf(perms[keySensitivity])
	md[keyTeams] = strings.Join(stringsOf(perms[keyTeams]), ",")
	md[keyUsers] = strings.Join(stringsOf(perms[keyUsers]), ",")
	md[keyGeoRestricted] = strconv.FormatBool(boolOf(perms[keyGeoRestricted]))
	md[keyThirdPartyRestricted] = strconv.FormatBool(boolOf(perms[keyThirdPartyRestricted]))
	return md
}

func metadataToPayload(content string, md map[string]string) map[string]any {
	return map[string]any{
		keyTitle:   md[keyTitle],
		keyContent: content,
		keySource:  md[keySource],
		keyURL:     md[keyURL],
		keyPermissions: map[string]any{
			keySensitivity:          md[keySensitivity],
			keyTeams:                splitList(md[keyTeams]),
			keyUsers:                splitList(md[keyUsers]),
			keyGeoRestricted:        md[keyGeoRestricted],
			keyThirdPartyRestricted: md[keyThirdPartyRestricted],
		},
	}
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
