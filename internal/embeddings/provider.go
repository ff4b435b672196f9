package embeddings

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/askd/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings.
type Provider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is "openai", "gemini" or "fastembed".
	Provider string
	Model    string
	// BaseURL overrides the OpenAI endpoint.
	BaseURL string
	APIKey  string
	// Dimension is used when the model is not known to the provider.
	Dimension int
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
	// RequestsPerSecond paces calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// LocalConfig configures the in-process fastembed provider.
type LocalConfig struct {
	Model    string
	CacheDir string
	// MaxLength truncates inputs, in tokens.
	MaxLength int
	// BatchSize bounds the passages run through the model at once.
	BatchSize int
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.CacheDir == "" {
		c.CacheDir = "local_cache"
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 512
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	return c
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai", "gemini":
		if c.APIKey == "" && c.BaseURL == "" {
			return fmt.Errorf("%w: %s provider requires an api key", ErrInvalidConfig, c.Provider)
		}
	case "fastembed":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must not be negative", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates the configured provider, paced and instrumented.
func NewProvider(ctx context.Context, cfg Config, logger *logging.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = NewOpenAIProvider(cfg)
	case "gemini":
		p, err = NewGeminiProvider(ctx, cfg)
	case "fastembed":
		p, err = NewFastEmbedProvider(LocalConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond > 0 {
		p = NewRateLimited(p, rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return instrument(p, cfg.Model, nil, logger), nil
}
