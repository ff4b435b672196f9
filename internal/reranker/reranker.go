// Package reranker orders released candidates for answer synthesis.
package reranker

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Reranker reorders candidates by relevance to a query.
type Reranker interface {
	// Rerank returns at most topK candidates, best first. Candidate scores
	// are left as the retrieval scores. A non-positive topK keeps every
	// candidate.
	Rerank(ctx context.Context, query string, cands []conversation.Candidate, topK int) ([]conversation.Candidate, error)
}

// TermOverlap blends the retrieval score with the share of query terms
// found in the candidate's title and content.
type TermOverlap struct {
	// ScoreWeight is the weight of the retrieval score; the overlap gets
	// the rest.
	ScoreWeight float32
}

// NewTermOverlap returns a TermOverlap with an even blend.
func NewTermOverlap() *TermOverlap {
	return &TermOverlap{ScoreWeight: 0.5}
}

type ranked struct {
	cand     conversation.Candidate
	combined float32
}

// Rerank implements Reranker. Ties keep the input order.
func (r *TermOverlap) Rerank(ctx context.Context, query string, cands []conversation.Candidate, topK int) ([]conversation.Candidate, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 || topK > len(cands) {
		topK = len(cands)
	}
	if len(cands) == 0 {
		return []conversation.Candidate{}, nil
	}

	terms := Tokenize(query)
	out := make([]ranked, len(cands))
	for i, c := range cands {
		combined := c.Score
		if len(terms) > 0 {
			overlap := termOverlap(terms, Tokenize(c.Title+" "+c.Content))
			combined = r.ScoreWeight*c.Score + (1-r.ScoreWeight)*overlap
		}
		out[i] = ranked{cand: c, combined: combined}
	}

	slices.SortStableFunc(out, func(a, b ranked) int {
		switch {
		case a.combined > b.combined:
			return -1
		case a.combined < b.combined:
			return 1
		}
		return 0
	})

	result := make([]conversation.Candidate, topK)
	for i := range result {
		result[i] = out[i].cand
	}
	return result, nil
}

// Tokenize splits text into lowercase terms longer than two characters,
// dropping common stopwords.
func Tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
}

// termOverlap returns the share of distinct query terms present in doc.
func termOverlap(query, doc []string) float32 {
	if len(query) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		docSet[t] = struct{}{}
	}
	distinct := make(map[string]struct{}, len(query))
	matched := 0
	for _, t := range query {
		if _, seen := distinct[t]; seen {
			continue
		}
		distinct[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(distinct))
}
