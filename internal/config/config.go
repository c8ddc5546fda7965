package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all helmsman configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Engine loop settings
	Engine EngineConfig `yaml:"engine"`

	// Memory tiers
	Memory MemoryConfig `yaml:"memory"`

	// LLM collaborators (classifier, rewriter, planner, responder)
	LLM LLMConfig `yaml:"llm"`

	// Embedding generation for long-term records
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Data source backends
	Sources SourcesConfig `yaml:"sources"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the turn execution loop.
type EngineConfig struct {
	// MaxIterations bounds task executions within one turn.
	MaxIterations int `yaml:"max_iterations"`

	// TrustMode tells capabilities to guess instead of asking the user.
	TrustMode bool `yaml:"trust_mode"`

	// CheckpointPath is the SQLite database used for thread checkpoints
	// and history units.
	CheckpointPath string `yaml:"checkpoint_path"`
}

// MemoryConfig configures the two memory tiers.
type MemoryConfig struct {
	// ShortTermTurns is the FIFO window of recent turns injected into
	// classification and rewrite prompts.
	ShortTermTurns int `yaml:"short_term_turns"`

	// LongTermRetries is how many times a failed long-term write is retried
	// before the record is dropped.
	LongTermRetries int `yaml:"long_term_retries"`

	// LongTermBackoff is the initial retry backoff, doubled per attempt.
	LongTermBackoff string `yaml:"long_term_backoff"`

	// QueueSize bounds the async forwarder channel.
	QueueSize int `yaml:"queue_size"`
}

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, zai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures embedding generation.
type EmbeddingConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// SourcesConfig configures the query backends.
type SourcesConfig struct {
	Elasticsearch BackendConfig `yaml:"elasticsearch"`
	GraphQL       BackendConfig `yaml:"graphql"`
}

// BackendConfig configures one query backend.
type BackendConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Index   string `yaml:"index,omitempty"` // elasticsearch only
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "helmsman",
		Version: "0.3.0",

		Engine: EngineConfig{
			MaxIterations:  10,
			TrustMode:      false,
			CheckpointPath: "data/helmsman.db",
		},

		Memory: MemoryConfig{
			ShortTermTurns:  3,
			LongTermRetries: 3,
			LongTermBackoff: "250ms",
			QueueSize:       64,
		},

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "60s",
		},

		Embedding: EmbeddingConfig{
			Enabled: false,
			Model:   "gemini-embedding-001",
		},

		Sources: SourcesConfig{
			Elasticsearch: BackendConfig{
				Enabled: true,
				BaseURL: "http://localhost:9200",
				Index:   "records",
				Timeout: "30s",
			},
			GraphQL: BackendConfig{
				Enabled: true,
				BaseURL: "http://localhost:8080/graphql",
				Timeout: "30s",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("ZAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "zai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}

	if url := os.Getenv("HELMSMAN_ES_URL"); url != "" {
		c.Sources.Elasticsearch.BaseURL = url
	}
	if url := os.Getenv("HELMSMAN_GRAPHQL_URL"); url != "" {
		c.Sources.GraphQL.BaseURL = url
	}
	if path := os.Getenv("HELMSMAN_DB"); path != "" {
		c.Engine.CheckpointPath = path
	}
	if v := os.Getenv("HELMSMAN_TRUST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.TrustMode = b
		}
	}
}

// validate rejects values the engine cannot run with.
func (c *Config) validate() error {
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be at least 1, got %d", c.Engine.MaxIterations)
	}
	if c.Memory.ShortTermTurns < 0 {
		return fmt.Errorf("memory.short_term_turns cannot be negative, got %d", c.Memory.ShortTermTurns)
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetLongTermBackoff returns the initial long-term retry backoff.
func (c *Config) GetLongTermBackoff() time.Duration {
	d, err := time.ParseDuration(c.Memory.LongTermBackoff)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// GetBackendTimeout returns a backend timeout as a duration.
func (b *BackendConfig) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
