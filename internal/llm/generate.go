package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

const (
	contextSnippetLength = 500
	maxFollowUps         = 3
)

const generatePrompt = `You are a knowledge assistant. Answer the user's question based on the provided search results.

User Question: %s

Search Results:
%s

Instructions:
1. Provide a comprehensive answer based ONLY on the search results
2. Include relevant citations using [1], [2], etc.
3. If information is incomplete, acknowledge it
4. Suggest 2-3 related questions the user might ask
5. Be concise but thorough

Format your response as:

<answer>
[Your answer here with citations like [1], [2]]
</answer>

<related_questions>
- Question 1
- Question 2
- Question 3
</related_questions>`

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Generator writes answers from ranked results.
type Generator struct {
	client *Client
}

// NewGenerator returns a Generator over client.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// Synthesize asks the model for an answer grounded in results. Citation
// markers [n] in the answer are resolved to results[n-1].
func (g *Generator) Synthesize(ctx context.Context, query string, results []conversation.Candidate) (conversation.Answer, error) {
	reply, err := g.client.Complete(ctx, fmt.Sprintf(generatePrompt, query, contextBlock(results)))
	if err != nil {
		return conversation.Answer{}, err
	}

	text := strings.TrimSpace(reply)
	if answer, ok := between(reply, "<answer>", "</answer>"); ok {
		text = answer
	}
	if text == "" {
		return conversation.Answer{}, ErrEmptyCompletion
	}

	var followUps []string
	if related, ok := between(reply, "<related_questions>", "</related_questions>"); ok {
		for _, line := range strings.Split(related, "\n") {
			q := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
			if q != "" && len(followUps) < maxFollowUps {
				followUps = append(followUps, q)
			}
		}
	}

	return conversation.Answer{
		Text:      text,
		Citations: citations(text, results),
		FollowUps: followUps,
	}, nil
}

func contextBlock(results []conversation.Candidate) string {
	parts := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		source := r.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, fmt.Sprintf("[%d] %s\nSource: %s\n%s", i+1, title, source, truncate(r.Content, contextSnippetLength)))
	}
	return strings.Join(parts, "\n\n")
}

// citations resolves markers in text in order of first appearance.
// Markers outside results are ignored.
func citations(text string, results []conversation.Candidate) []conversation.Citation {
	seen := make(map[int]bool)
	var out []conversation.Citation
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(results) || seen[n] {
			continue
		}
		seen[n] = true
		r := results[n-1]
		out = append(out, conversation.Citation{Index: n, ID: r.ID, Title: r.Title, URL: r.URL})
	}
	return out
}

func between(s, open, close string) (string, bool) {
	i := strings.Index(s, open)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
