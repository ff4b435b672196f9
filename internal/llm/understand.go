package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

// KnownSources are the connector names accepted as source hints.
var KnownSources = []string{"slack", "github", "box", "jira", "confluence", "drive", "asana", "notion"}

const defaultIntent = "search"

var intents = []string{"search", "question", "command", "clarification"}

const understandPrompt = `Analyze this search query and extract:
1. Primary intent (search|question|command|clarification)
2. Key entities and concepts
3. Suggested search keywords
4. Data sources that likely hold the answer, chosen from: %s

Query: %s

Respond with a single JSON object and nothing else:
{"intent": "...", "entities": ["..."], "keywords": ["..."], "data_sources": ["..."]}`

// Understander extracts intent, entities, keywords and source hints.
type Understander struct {
	client *Client
}

// NewUnderstander returns an Understander over client.
func NewUnderstander(client *Client) *Understander {
	return &Understander{client: client}
}

type understanding struct {
	Intent      string   `json:"intent"`
	Entities    []string `json:"entities"`
	Keywords    []string `json:"keywords"`
	DataSources []string `json:"data_sources"`
	SourceHints []string `json:"source_hints"`
}

// Understand asks the model to analyse query. A reply that is not valid
// JSON degrades to a keyword split of the query instead of failing.
func (u *Understander) Understand(ctx context.Context, query string) (conversation.Understanding, error) {
	reply, err := u.client.Complete(ctx, fmt.Sprintf(understandPrompt, strings.Join(KnownSources, ", "), query))
	if err != nil {
		return conversation.Understanding{}, err
	}

	var parsed understanding
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		u.client.logger.Warn(ctx, "understanding reply was not JSON, using keywords", zap.Error(err))
		return conversation.Understanding{Intent: defaultIntent, Keywords: strings.Fields(query)}, nil
	}

	out := conversation.Understanding{
		Intent:      strings.ToLower(strings.TrimSpace(parsed.Intent)),
		Entities:    clean(parsed.Entities),
		Keywords:    clean(parsed.Keywords),
		SourceHints: sourceHints(append(parsed.DataSources, parsed.SourceHints...)),
	}
	if !slices.Contains(intents, out.Intent) {
		out.Intent = defaultIntent
	}
	if len(out.Keywords) == 0 {
		out.Keywords = strings.Fields(query)
	}
	return out, nil
}

// extractJSON returns the outermost object in s, tolerating code fences
// and prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// sourceHints keeps the known connector names in in, lowercased.
func sourceHints(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if slices.Contains(KnownSources, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
