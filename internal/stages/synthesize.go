package stages

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// NoResultsAnswer is returned when nothing was released to the requester.
const NoResultsAnswer = "I couldn't find any relevant information to answer your question. " +
	"Try rephrasing it or asking about a related topic."

const (
	fallbackSnippets = 3
	snippetLength    = 300
)

type synthesize struct{ p *Pipeline }

func (h *synthesize) Stage() conversation.Stage { return conversation.StageSynthesize }

// Execute asks the generator for an answer, making at most
// SynthesisAttempts bounded attempts. When they are exhausted the answer
// is built from the top snippets instead and the failure is recorded.
func (h *synthesize) Execute(ctx context.Context, c *conversation.Context) error {
	results := c.RankedResults[:min(len(c.RankedResults), h.p.cfg.ContextSize)]
	if len(results) == 0 {
		c.Answer = &conversation.Answer{Text: NoResultsAnswer}
		return nil
	}

	var lastErr error
	attempts := 0
	for attempts < h.p.cfg.SynthesisAttempts {
		attempts++
		answer, err := h.attempt(ctx, c.Query, results)
		if err == nil {
			answer.Citations = releasedCitations(answer.Citations, results)
			c.Answer = &answer
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		h.p.logger.Debug(ctx, "synthesis attempt failed", zap.Int("attempt", attempts), zap.Error(err))
	}

	h.p.recordError(ctx, c, conversation.NewUpstreamError("generation", "synthesize", lastErr), true, attempts)
	answer := Extractive(results)
	c.Answer = &answer
	SynthesisFallbacks.Inc()
	return nil
}

func (h *synthesize) attempt(ctx context.Context, query string, results []conversation.Candidate) (conversation.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, h.p.cfg.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	answer, err := h.p.deps.Generator.Synthesize(ctx, query, results)
	observeCall("generation", err, time.Since(start))
	return answer, err
}

// releasedCitations drops citations that do not point at one of results.
func releasedCitations(in []conversation.Citation, results []conversation.Candidate) []conversation.Citation {
	allowed := make(map[string]struct{}, len(results))
	for _, r := range results {
		allowed[r.ID] = struct{}{}
	}
	out := make([]conversation.Citation, 0, len(in))
	for _, cit := range in {
		if _, ok := allowed[cit.ID]; ok {
			out = append(out, cit)
		}
	}
	return out
}

// Extractive builds an answer from the leading snippets of the top results.
func Extractive(results []conversation.Candidate) conversation.Answer {
	n := min(len(results), fallbackSnippets)
	parts := make([]string, 0, n)
	citations := make([]conversation.Citation, 0, n)
	for i, r := range results[:n] {
		parts = append(parts, fmt.Sprintf("Based on '%s': %s... [%d]", r.Descriptor(), truncate(r.Content, snippetLength), i+1))
		citations = append(citations, conversation.Citation{Index: i + 1, ID: r.ID, Title: r.Title, URL: r.URL})
	}
	return conversation.Answer{
		Text:      strings.Join(parts, "\n\n"),
		Citations: citations,
		Fallback:  true,
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
