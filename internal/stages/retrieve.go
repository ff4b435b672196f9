package stages

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

var errEmptyEmbedding = errors.New("embedding service returned an empty vector")

type understand struct{ p *Pipeline }

func (h *understand) Stage() conversation.Stage { return conversation.StageUnderstand }

func (h *understand) Execute(ctx context.Context, c *conversation.Context) error {
	var u conversation.Understanding
	err := h.p.call(ctx, c, "understanding", "understand", func(ctx context.Context) error {
		var err error
		u, err = h.p.deps.Understander.Understand(ctx, c.Query)
		return err
	})
	if err != nil {
		return err
	}
	c.Understanding = &u
	h.p.logger.Debug(ctx, "query understood",
		zap.String("intent", u.Intent),
		zap.Int("entities", len(u.Entities)),
		zap.Strings("source_hints", u.SourceHints),
	)
	return nil
}

type embed struct{ p *Pipeline }

func (h *embed) Stage() conversation.Stage { return conversation.StageEmbed }

func (h *embed) Execute(ctx context.Context, c *conversation.Context) error {
	var vec []float32
	err := h.p.call(ctx, c, "embedding", "embed", func(ctx context.Context) error {
		var err error
		vec, err = h.p.deps.Embedder.EmbedQuery(ctx, c.Query)
		if err == nil && len(vec) == 0 {
			err = errEmptyEmbedding
		}
		return err
	})
	if err != nil {
		return err
	}
	c.Embedding = vec
	return nil
}

type search struct{ p *Pipeline }

func (h *search) Stage() conversation.Stage { return conversation.StageSearch }

func (h *search) Execute(ctx context.Context, c *conversation.Context) error {
	var filters conversation.SearchFilters
	if c.Understanding != nil {
		filters.Sources = c.Understanding.SourceHints
	}

	var results []conversation.Candidate
	err := h.p.call(ctx, c, "retrieval", "search", func(ctx context.Context) error {
		var err error
		results, err = h.p.deps.Retriever.Search(ctx, c.Embedding, filters, h.p.cfg.SearchLimit)
		return err
	})
	if err != nil {
		return err
	}

	c.RawResults = dedupe(results)
	h.p.logger.Debug(ctx, "search complete", zap.Int("results", len(c.RawResults)))
	return nil
}

// dedupe keeps the first occurrence of each candidate id.
func dedupe(in []conversation.Candidate) []conversation.Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]conversation.Candidate, 0, len(in))
	for _, cand := range in {
		if _, dup := seen[cand.ID]; dup {
			continue
		}
		seen[cand.ID] = struct{}{}
		out = append(out, cand)
	}
	return out
}
