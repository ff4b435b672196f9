package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/askd/internal/conversation"
)

type fakeModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
	opts    []llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.opts = append(f.opts, opts)
	for _, m := range messages {
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tp.Text)
			}
		}
	}

	i := len(f.prompts) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newClient(t *testing.T, m llms.Model, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(m, cfg, nil)
	require.NoError(t, err)
	return c
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Model: "gpt-4o-mini", APIKey: "k", Temperature: 0.3}
	require.NoError(t, valid.Validate())

	local := Config{Model: "llama3", BaseURL: "http://localhost:11434/v1"}
	require.NoError(t, local.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"missing model", func(c *Config) { c.Model = "" }, "llm.model"},
		{"no key or url", func(c *Config) { c.APIKey = "" }, "llm.api_key"},
		{"temperature", func(c *Config) { c.Temperature = 3 }, "llm.temperature"},
		{"max tokens", func(c *Config) { c.MaxTokens = -1 }, "llm.max_tokens"},
		{"rate", func(c *Config) { c.RequestsPerSecond = -1 }, "llm.requests_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			var ce *conversation.ConfigurationError
			require.ErrorAs(t, cfg.Validate(), &ce)
			assert.Equal(t, tt.key, ce.Key)
		})
	}
}

func TestClient_CompletePassesOptions(t *testing.T) {
	m := &fakeModel{replies: []string{"hello"}}
	c := newClient(t, m, Config{Temperature: 0.3, MaxTokens: 256})

	got, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	require.Len(t, m.opts, 1)
	assert.Equal(t, 0.3, m.opts[0].Temperature)
	assert.Equal(t, 256, m.opts[0].MaxTokens)
}

func TestClient_CompleteErrors(t *testing.T) {
	m := &fakeModel{errs: []error{
		errors.New("API returned unexpected status code: 503"),
		errors.New("API returned unexpected status code: 401"),
	}}
	c := newClient(t, m, Config{})

	_, err := c.Complete(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, conversation.IsTransient(err))

	_, err = c.Complete(context.Background(), "b")
	require.Error(t, err)
	assert.False(t, conversation.IsTransient(err))

	_, err = c.Complete(context.Background(), "c")
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestClient_RateLimited(t *testing.T) {
	m := &fakeModel{replies: []string{"a", "b", "c"}}
	c := newClient(t, m, Config{RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for range 3 {
		_, err := c.Complete(context.Background(), "q")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "q")
	require.Error(t, err)
}

func TestUnderstander(t *testing.T) {
	reply := "```json\n" + `{"intent": "Question", "entities": ["VPN", "VPN", " "], "keywords": ["vpn", "setup"], "data_sources": ["Confluence", "fax", "slack"]}` + "\n```"
	m := &fakeModel{replies: []string{reply}}
	u := NewUnderstander(newClient(t, m, Config{}))

	got, err := u.Understand(context.Background(), "how do I set up the VPN?")
	require.NoError(t, err)
	assert.Equal(t, conversation.Understanding{
		Intent:      "question",
		Entities:    []string{"VPN"},
		Keywords:    []string{"vpn", "setup"},
		SourceHints: []string{"confluence", "slack"},
	}, got)
	assert.Contains(t, m.prompts[0], "how do I set up the VPN?")
}

func TestUnderstander_NonJSONFallsBack(t *testing.T) {
	m := &fakeModel{replies: []string{"I think the user wants VPN help"}}
	u := NewUnderstander(newClient(t, m, Config{}))

	got, err := u.Understand(context.Background(), "vpn setup guide")
	require.NoError(t, err)
	assert.Equal(t, "search", got.Intent)
	assert.Equal(t, []string{"vpn", "setup", "guide"}, got.Keywords)
	assert.Empty(t, got.SourceHints)
}

func TestUnderstander_UnknownIntent(t *testing.T) {
	m := &fakeModel{replies: []string{`{"intent": "chitchat"}`}}
	u := NewUnderstander(newClient(t, m, Config{}))

	got, err := u.Understand(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, "search", got.Intent)
	assert.Equal(t, []string{"hello", "there"}, got.Keywords)
}

var results = []conversation.Candidate{
	{ID: "doc-1", Title: "VPN guide", Source: "confluence", URL: "https://wiki/vpn", Content: "Install the client."},
	{ID: "doc-2", Title: "", Source: "", Content: strings.Repeat("x", 800)},
}

func TestGenerator_Synthesize(t *testing.T) {
	reply := `Sure.
<answer>
Install the client [1]. See also [2] and again [1]; ignore [7].
</answer>

<related_questions>
- How do I reset my VPN password?
* Which VPN servers exist?
- Is split tunnelling allowed?
- A fourth question
</related_questions>`
	m := &fakeModel{replies: []string{reply}}
	g := NewGenerator(newClient(t, m, Config{}))

	got, err := g.Synthesize(context.Background(), "vpn?", results)
	require.NoError(t, err)
	assert.Equal(t, "Install the client [1]. See also [2] and again [1]; ignore [7].", got.Text)
	assert.Equal(t, []conversation.Citation{
		{Index: 1, ID: "doc-1", Title: "VPN guide", URL: "https://wiki/vpn"},
		{Index: 2, ID: "doc-2"},
	}, got.Citations)
	assert.Equal(t, []string{
		"How do I reset my VPN password?",
		"Which VPN servers exist?",
		"Is split tunnelling allowed?",
	}, got.FollowUps)

	prompt := m.prompts[0]
	assert.Contains(t, prompt, "[1] VPN guide\nSource: confluence\nInstall the client.")
	assert.Contains(t, prompt, "[2] Untitled\nSource: unknown\n"+strings.Repeat("x", 500)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("x", 501))
}

func TestGenerator_UntaggedReply(t *testing.T) {
	m := &fakeModel{replies: []string{"Plain answer citing [1]."}}
	g := NewGenerator(newClient(t, m, Config{}))

	got, err := g.Synthesize(context.Background(), "q", results)
	require.NoError(t, err)
	assert.Equal(t, "Plain answer citing [1].", got.Text)
	require.Len(t, got.Citations, 1)
	assert.Empty(t, got.FollowUps)
}

func TestGenerator_EmptyAnswer(t *testing.T) {
	m := &fakeModel{replies: []string{"<answer>  </answer>"}}
	g := NewGenerator(newClient(t, m, Config{}))

	_, err := g.Synthesize(context.Background(), "q", results)
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewModel_OpenAICompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "<answer>From the server [1]</answer>"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	model, err := NewModel(Config{Model: "test-model", BaseURL: srv.URL})
	require.NoError(t, err)

	g := NewGenerator(newClient(t, model, Config{}))
	got, err := g.Synthesize(context.Background(), "q", results)
	require.NoError(t, err)
	assert.Equal(t, "From the server [1]", got.Text)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "doc-1", got.Citations[0].ID)
}
