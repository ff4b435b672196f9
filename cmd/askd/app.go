package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/config"
	"github.com/fyrsmithlabs/askd/internal/embeddings"
	"github.com/fyrsmithlabs/askd/internal/gaps"
	"github.com/fyrsmithlabs/askd/internal/history"
	"github.com/fyrsmithlabs/askd/internal/llm"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
	"github.com/fyrsmithlabs/askd/internal/permission"
	"github.com/fyrsmithlabs/askd/internal/qdrant"
	"github.com/fyrsmithlabs/askd/internal/retrieval"
	"github.com/fyrsmithlabs/askd/internal/retry"
	"github.com/fyrsmithlabs/askd/internal/secrets"
	"github.com/fyrsmithlabs/askd/internal/stages"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
)

// index is a retrieval backend that can also be written to.
type index interface {
	stages.Retriever
	Index(ctx context.Context, docs []retrieval.Document) error
}

// app holds the infrastructure shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	qdrant    *qdrant.GRPCClient
	index     index

	closers []func() error
}

// newApp loads configuration and connects the logger, telemetry, embedder
// and retrieval backend. quiet routes console logs to stderr.
func newApp(ctx context.Context, quiet bool) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.telemetry, err = telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return a.telemetry.Shutdown(sctx)
	})

	logCfg, err := loggingConfig(cfg, quiet)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.embedder, err = embeddings.NewProvider(ctx, embeddingsConfig(cfg), a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.closers = append(a.closers, a.embedder.Close)

	if cfg.Retrieval.Provider == "qdrant" || cfg.History.Provider == "qdrant" {
		a.qdrant, err = qdrant.NewGRPCClient(ctx, qdrantConfig(cfg), a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		a.closers = append(a.closers, a.qdrant.Close)
	}

	switch cfg.Retrieval.Provider {
	case "qdrant":
		a.index, err = retrieval.NewQdrantRetriever(a.qdrant, cfg.Retrieval.Collection, a.logger)
	default:
		a.index, err = retrieval.NewChromemRetriever(retrieval.ChromemConfig{
			Path:       cfg.Chromem.Path,
			Compress:   cfg.Chromem.Compress,
			Collection: cfg.Retrieval.Collection,
		}, a.logger)
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	a.logger.Info(ctx, "askd initialized",
		zap.String("version", version),
		zap.String("retrieval", cfg.Retrieval.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("telemetry", a.telemetry.Enabled()))
	if err := a.telemetry.Err(); err != nil {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(err))
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// historyStore opens the configured query history.
func (a *app) historyStore() (stages.HistoryStore, error) {
	if a.cfg.History.Provider != "qdrant" {
		return history.NewMemoryStore(), nil
	}
	hc := history.DefaultQdrantConfig()
	hc.ConversationsCollection = a.cfg.History.ConversationsCollection
	hc.GapsCollection = a.cfg.History.GapsCollection
	hc.SimilarityThreshold = a.cfg.Gaps.SimilarityThreshold
	return history.NewQdrantStore(a.qdrant, hc, a.logger)
}

// pipeline builds the stage handlers from the collaborators of a.
func (a *app) pipeline() (*stages.Pipeline, *permission.Evaluator, error) {
	hist, err := a.historyStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history store: %w", err)
	}
	scrubber, err := secrets.New(secrets.Config{
		Enabled:         a.cfg.Secrets.Enabled,
		RedactionString: a.cfg.Secrets.RedactionString,
		AllowPatterns:   a.cfg.Secrets.AllowPatterns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	policy, err := permissionPolicy(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	evaluator, err := permission.NewEvaluator(policy)
	if err != nil {
		return nil, nil, err
	}
	detector, err := gaps.NewDetector(gapsConfig(a.cfg))
	if err != nil {
		return nil, nil, err
	}

	llmCfg := llmConfig(a.cfg)
	model, err := llm.NewModel(llmCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create language model: %w", err)
	}
	client, err := llm.NewClient(model, llmCfg, a.logger)
	if err != nil {
		return nil, nil, err
	}

	p, err := stages.NewPipeline(stagesConfig(a.cfg), stages.Deps{
		Understander: llm.NewUnderstander(client),
		Embedder:     a.embedder,
		Retriever:    a.index,
		Generator:    llm.NewGenerator(client),
		History:      hist,
		Permissions:  evaluator,
		Gaps:         detector,
		Scrubber:     scrubber,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return p, evaluator, nil
}

func loggingConfig(cfg *config.Config, quiet bool) (*logging.Config, error) {
	out := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	out.Level = level
	out.Format = cfg.Logging.Format
	out.Output.OTEL = cfg.Logging.OTEL && cfg.Telemetry.Enabled
	out.Output.Stderr = quiet
	return out, nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	out := telemetry.NewDefaultConfig()
	out.Enabled = cfg.Telemetry.Enabled
	out.Endpoint = cfg.Telemetry.Endpoint
	out.Protocol = cfg.Telemetry.Protocol
	out.Insecure = cfg.Telemetry.Insecure
	out.ServiceName = cfg.Telemetry.ServiceName
	out.ServiceVersion = version
	out.SampleRate = cfg.Telemetry.SampleRate
	out.ShutdownTimeout = cfg.Server.ShutdownTimeout.Duration()
	return out
}

func embeddingsConfig(cfg *config.Config) embeddings.Config {
	e := cfg.Embeddings
	return embeddings.Config{
		Provider:          e.Provider,
		Model:             e.Model,
		BaseURL:           e.BaseURL,
		APIKey:            e.APIKey.Value(),
		Dimension:         e.Dimension,
		CacheDir:          e.CacheDir,
		RequestsPerSecond: e.RequestsPerSecond,
		Burst:             e.Burst,
	}
}

func qdrantConfig(cfg *config.Config) *qdrant.ClientConfig {
	out := qdrant.DefaultClientConfig()
	out.Host = cfg.Qdrant.Host
	out.Port = cfg.Qdrant.Port
	out.UseTLS = cfg.Qdrant.UseTLS
	out.APIKey = cfg.Qdrant.APIKey.Value()
	out.DialTimeout = cfg.Qdrant.DialTimeout.Duration()
	return out
}

func llmConfig(cfg *config.Config) llm.Config {
	l := cfg.LLM
	return llm.Config{
		BaseURL:           l.BaseURL,
		Model:             l.Model,
		APIKey:            l.APIKey.Value(),
		Temperature:       l.Temperature,
		MaxTokens:         l.MaxTokens,
		Timeout:           l.Timeout.Duration(),
		RequestsPerSecond: l.RequestsPerSecond,
		Burst:             l.Burst,
	}
}

func stagesConfig(cfg *config.Config) stages.Config {
	o := cfg.Orchestrator
	return stages.Config{
		Retry: retry.Policy{
			MaxAttempts: o.RetryMaxAttempts,
			BaseDelay:   o.RetryBaseDelay.Duration(),
			MaxDelay:    o.RetryMaxDelay.Duration(),
			Jitter:      o.RetryJitter,
		},
		SearchLimit:       o.SearchLimit,
		TopK:              o.TopK,
		ContextSize:       o.ContextSize,
		SynthesisAttempts: o.SynthesisMaxAttempts,
		SynthesisTimeout:  o.SynthesisTimeout.Duration(),
		LogTimeout:        o.LogTimeout.Duration(),
	}
}

func gapsConfig(cfg *config.Config) gaps.Config {
	g := cfg.Gaps
	return gaps.Config{
		Enabled:             g.Enabled,
		MinRequests:         g.MinRequests,
		QualityFloor:        g.QualityFloor,
		UserThreshold:       g.UserThreshold,
		Window:              g.Window.Duration(),
		SimilarityThreshold: g.SimilarityThreshold,
		RequireApproval:     g.RequireApproval,
		Publish:             g.Publish,
	}
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Retention:              cfg.Orchestrator.Retention.Duration(),
		ExposeFilteredOnReject: cfg.Orchestrator.ExposeFilteredOnReject,
		RunTimeout:             cfg.Orchestrator.RunTimeout.Duration(),
	}
}

// permissionPolicy reads the policy file when one is configured, and the
// inline lists otherwise.
func permissionPolicy(cfg *config.Config) (permission.Policy, error) {
	if cfg.Permission.PolicyFile != "" {
		return permission.LoadPolicyFile(cfg.Permission.PolicyFile)
	}
	return permission.Policy{
		SensitiveTiers:            cfg.Permission.SensitiveTiers,
		ExemptLocations:           cfg.Permission.ExemptLocations,
		RestrictedEmploymentTypes: cfg.Permission.RestrictedEmploymentTypes,
	}, nil
}
