// Package llm binds the understanding and generation collaborators to a
// chat completion model through langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/logging"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Config configures the completion model.
type Config struct {
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	// RequestsPerSecond paces calls to the model. Zero disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// Validate checks the model settings.
func (c Config) Validate() error {
	switch {
	case c.Model == "":
		return &conversation.ConfigurationError{Key: "llm.model", Reason: "must not be empty"}
	case c.APIKey == "" && c.BaseURL == "":
		return &conversation.ConfigurationError{Key: "llm.api_key", Reason: "required unless base_url points at a local server"}
	case c.Temperature < 0 || c.Temperature > 2:
		return &conversation.ConfigurationError{Key: "llm.temperature", Reason: fmt.Sprintf("must be within [0,2], got %g", c.Temperature)}
	case c.MaxTokens < 0:
		return &conversation.ConfigurationError{Key: "llm.max_tokens", Reason: "must not be negative"}
	case c.RequestsPerSecond < 0:
		return &conversation.ConfigurationError{Key: "llm.requests_per_second", Reason: "must not be negative"}
	}
	return nil
}

// NewModel returns an OpenAI-compatible chat model for cfg.
func NewModel(cfg Config) (llms.Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	} else {
		// The client refuses to start without a token; local servers ignore it.
		opts = append(opts, openai.WithToken("unused"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating completion client: %w", err)
	}
	return model, nil
}

// Client sends single prompts to a model.
type Client struct {
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewClient wraps model. A nil logger discards logs.
func NewClient(model llms.Model, cfg Config, logger *logging.Logger) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{model: model, cfg: cfg, logger: logger.Named("llm")}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return c, nil
}

// Complete returns the model's reply to prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var opts []llms.CallOption
	if c.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.cfg.Temperature))
	}
	if c.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.cfg.MaxTokens))
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, opts...)
	if err != nil {
		c.logger.Debug(ctx, "completion failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return "", classify(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	c.logger.Debug(ctx, "completion received",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

// transientMarkers are fragments of provider errors worth retrying.
var transientMarkers = []string{
	"status code: 429", "status code: 500", "status code: 502", "status code: 503", "status code: 504",
	"rate limit", "connection refused", "connection reset", "timeout",
}

// classify marks provider errors that are worth retrying. The provider
// client reports HTTP failures as plain errors, so the text is inspected.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	transient := false
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			transient = true
			break
		}
	}
	return &conversation.UpstreamServiceError{Service: "llm", Op: "complete", Transient: transient, Err: err}
}
