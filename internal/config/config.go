// Package config provides configuration loading for askd.
//
// Configuration is read from a YAML file, overridden by ASKD_* environment
// variables, and completed with defaults before validation.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete askd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Permission   PermissionConfig   `koanf:"permission"`
	Gaps         GapsConfig         `koanf:"gaps"`
	LLM          LLMConfig          `koanf:"llm"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Qdrant       QdrantConfig       `koanf:"qdrant"`
	Chromem      ChromemConfig      `koanf:"chromem"`
	History      HistoryConfig      `koanf:"history"`
	Snapshot     SnapshotConfig     `koanf:"snapshot"`
	NATS         NATSConfig         `koanf:"nats"`
	Temporal     TemporalConfig     `koanf:"temporal"`
	Secrets      SecretsConfig      `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MCPEnabled      bool     `koanf:"mcp_enabled"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// OrchestratorConfig tunes the pipeline.
type OrchestratorConfig struct {
	RetryMaxAttempts       int      `koanf:"retry_max_attempts"`
	RetryBaseDelay         Duration `koanf:"retry_base_delay"`
	RetryMaxDelay          Duration `koanf:"retry_max_delay"`
	RetryJitter            float64  `koanf:"retry_jitter"`
	SearchLimit            int      `koanf:"search_limit"`
	TopK                   int      `koanf:"top_k"`
	ContextSize            int      `koanf:"context_size"`
	SynthesisMaxAttempts   int      `koanf:"synthesis_max_attempts"`
	SynthesisTimeout       Duration `koanf:"synthesis_timeout"`
	LogTimeout             Duration `koanf:"log_timeout"`
	Retention              Duration `koanf:"retention"`
	PurgeInterval          Duration `koanf:"purge_interval"`
	RunTimeout             Duration `koanf:"run_timeout"`
	ExposeFilteredOnReject bool     `koanf:"expose_filtered_on_reject"`
}

// PermissionConfig holds the sensitivity policy.
type PermissionConfig struct {
	SensitiveTiers            []string `koanf:"sensitive_tiers"`
	ExemptLocations           []string `koanf:"exempt_locations"`
	RestrictedEmploymentTypes []string `koanf:"restricted_employment_types"`
	PolicyFile                string   `koanf:"policy_file"`
	Watch                     bool     `koanf:"watch"`
}

// GapsConfig holds the gap detection thresholds.
type GapsConfig struct {
	Enabled             bool     `koanf:"enabled"`
	MinRequests         int      `koanf:"min_requests"`
	QualityFloor        float64  `koanf:"quality_floor"`
	UserThreshold       int      `koanf:"user_threshold"`
	Window              Duration `koanf:"window"`
	SimilarityThreshold float64  `koanf:"similarity_threshold"`
	RequireApproval     bool     `koanf:"require_approval"`
	Publish             bool     `koanf:"publish"`
}

// LLMConfig configures the understanding and generation services.
type LLMConfig struct {
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Temperature       float64  `koanf:"temperature"`
	MaxTokens         int      `koanf:"max_tokens"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider          string  `koanf:"provider"`
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	Dimension         int     `koanf:"dimension"`
	CacheDir          string  `koanf:"cache_dir"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// RetrievalConfig selects the retrieval backend.
type RetrievalConfig struct {
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds the Qdrant connection.
type QdrantConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	UseTLS      bool     `koanf:"use_tls"`
	APIKey      Secret   `koanf:"api_key"`
	DialTimeout Duration `koanf:"dial_timeout"`
}

// ChromemConfig holds the embedded vector store settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	Provider                string `koanf:"provider"`
	ConversationsCollection string `koanf:"conversations_collection"`
	GapsCollection          string `koanf:"gaps_collection"`
}

// SnapshotConfig selects the snapshot store.
type SnapshotConfig struct {
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// NATSConfig holds the notification bus connection.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TemporalConfig holds the approval workflow worker settings.
type TemporalConfig struct {
	Enabled         bool     `koanf:"enabled"`
	HostPort        string   `koanf:"host_port"`
	Namespace       string   `koanf:"namespace"`
	TaskQueue       string   `koanf:"task_queue"`
	ApprovalTimeout Duration `koanf:"approval_timeout"`
}

// SecretsConfig controls secret scrubbing of stored text.
type SecretsConfig struct {
	Enabled         bool     `koanf:"enabled"`
	RedactionString string   `koanf:"redaction_string"`
	AllowPatterns   []string `koanf:"allow_patterns"`
}

// Validate validates the configuration. Gap thresholds and the permission
// policy are validated by the packages that own them.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	o := c.Orchestrator
	if o.SearchLimit < 1 {
		return fmt.Errorf("orchestrator.search_limit must be positive, got %d", o.SearchLimit)
	}
	if o.TopK < 1 || o.TopK > o.SearchLimit {
		return fmt.Errorf("orchestrator.top_k must be between 1 and search_limit, got %d", o.TopK)
	}
	if o.ContextSize < 1 {
		return fmt.Errorf("orchestrator.context_size must be positive, got %d", o.ContextSize)
	}
	if o.RunTimeout < 0 {
		return errors.New("orchestrator.run_timeout must not be negative")
	}
	if o.SynthesisMaxAttempts < 1 {
		return fmt.Errorf("orchestrator.synthesis_max_attempts must be positive, got %d", o.SynthesisMaxAttempts)
	}

	switch c.Retrieval.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("retrieval.provider must be qdrant or chromem, got %q", c.Retrieval.Provider)
	}
	switch c.History.Provider {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("history.provider must be memory or qdrant, got %q", c.History.Provider)
	}
	switch c.Snapshot.Provider {
	case "memory":
	case "sqlite":
		if c.Snapshot.Path == "" {
			return errors.New("snapshot.path is required for the sqlite provider")
		}
	default:
		return fmt.Errorf("snapshot.provider must be memory or sqlite, got %q", c.Snapshot.Provider)
	}
	switch c.Embeddings.Provider {
	case "openai", "gemini", "fastembed":
	default:
		return fmt.Errorf("embeddings.provider must be openai, gemini or fastembed, got %q", c.Embeddings.Provider)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Temporal.Enabled && c.Temporal.HostPort == "" {
		return errors.New("temporal.host_port is required when temporal is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Gaps.Enabled = true
	cfg.Secrets.Enabled = true
	cfg.Server.MCPEnabled = true
	cfg.Chromem.Compress = true
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "askd"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	// Orchestrator defaults
	o := &cfg.Orchestrator
	if o.RetryMaxAttempts == 0 {
		o.RetryMaxAttempts = 3
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = Duration(200 * time.Millisecond)
	}
	if o.RetryMaxDelay == 0 {
		o.RetryMaxDelay = Duration(2 * time.Second)
	}
	if o.RetryJitter == 0 {
		o.RetryJitter = 0.2
	}
	if o.SearchLimit == 0 {
		o.SearchLimit = 50
	}
	if o.TopK == 0 {
		o.TopK = 20
	}
	if o.ContextSize == 0 {
		o.ContextSize = 10
	}
	if o.SynthesisMaxAttempts == 0 {
		o.SynthesisMaxAttempts = 3
	}
	if o.SynthesisTimeout == 0 {
		o.SynthesisTimeout = Duration(30 * time.Second)
	}
	if o.LogTimeout == 0 {
		o.LogTimeout = Duration(5 * time.Second)
	}
	if o.Retention == 0 {
		o.Retention = Duration(7 * 24 * time.Hour)
	}
	if o.PurgeInterval == 0 {
		o.PurgeInterval = Duration(time.Hour)
	}
	if o.RunTimeout == 0 {
		o.RunTimeout = Duration(5 * time.Minute)
	}

	// Permission defaults
	if len(cfg.Permission.SensitiveTiers) == 0 {
		cfg.Permission.SensitiveTiers = []string{"confidential", "restricted"}
	}
	if len(cfg.Permission.ExemptLocations) == 0 {
		cfg.Permission.ExemptLocations = []string{"US"}
	}
	if len(cfg.Permission.RestrictedEmploymentTypes) == 0 {
		cfg.Permission.RestrictedEmploymentTypes = []string{"contractor", "vendor", "third_party"}
	}

	// Gap detection defaults
	if cfg.Gaps.MinRequests == 0 {
		cfg.Gaps.MinRequests = 10
	}
	if cfg.Gaps.QualityFloor == 0 {
		cfg.Gaps.QualityFloor = 0.4
	}
	if cfg.Gaps.UserThreshold == 0 {
		cfg.Gaps.UserThreshold = 5
	}
	if cfg.Gaps.Window == 0 {
		cfg.Gaps.Window = Duration(7 * 24 * time.Hour)
	}
	if cfg.Gaps.SimilarityThreshold == 0 {
		cfg.Gaps.SimilarityThreshold = 0.85
	}

	// LLM defaults
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(30 * time.Second)
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 5
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 10
	}

	// Embeddings defaults
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.Embeddings.RequestsPerSecond == 0 {
		cfg.Embeddings.RequestsPerSecond = 20
	}
	if cfg.Embeddings.Burst == 0 {
		cfg.Embeddings.Burst = 20
	}

	// Retrieval defaults (chromem is default - embedded, no external deps)
	if cfg.Retrieval.Provider == "" {
		cfg.Retrieval.Provider = "chromem"
	}
	if cfg.Retrieval.Collection == "" {
		cfg.Retrieval.Collection = "knowledge_base"
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.DialTimeout == 0 {
		cfg.Qdrant.DialTimeout = Duration(5 * time.Second)
	}
	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "~/.config/askd/vectorstore"
	}

	// History defaults
	if cfg.History.Provider == "" {
		cfg.History.Provider = "memory"
	}
	if cfg.History.ConversationsCollection == "" {
		cfg.History.ConversationsCollection = "conversations"
	}
	if cfg.History.GapsCollection == "" {
		cfg.History.GapsCollection = "knowledge_gaps"
	}

	// Snapshot defaults
	if cfg.Snapshot.Provider == "" {
		cfg.Snapshot.Provider = "memory"
	}

	// NATS defaults
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "askd"
	}

	// Temporal defaults
	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "askd-approvals"
	}

	// Secrets defaults
	if cfg.Secrets.RedactionString == "" {
		cfg.Secrets.RedactionString = "[REDACTED]"
	}
}
