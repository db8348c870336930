// Package config provides configuration loading and management for Draftloop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file consulted when --config is not given.
const DefaultPath = "draftloop.yaml"

// Config represents the complete Draftloop configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	Workflow WorkflowConfig `yaml:"workflow"`
	CrossRef CrossRefConfig `yaml:"crossref"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP/WebSocket listener
type ServerConfig struct {
	// Host is the bind address (default: 0.0.0.0)
	Host string `yaml:"host"`
	// Port is the HTTP port (default: 8080)
	Port int `yaml:"port"`
	// CORSOrigins is the list of allowed origins for browser clients
	CORSOrigins []string `yaml:"cors_origins"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig configures the NATS connection used for the task queue
// and entity persistence. An empty URL selects the in-process backends.
type NATSConfig struct {
	// URL is the NATS server URL (empty = in-process queue and store)
	URL string `yaml:"url"`
	// Stream is the JetStream work stream name
	Stream string `yaml:"stream"`
	// MaxReconnects passed to the client (-1 = unlimited)
	MaxReconnects int `yaml:"max_reconnects"`
	// ReconnectWait between reconnect attempts
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// RedisConfig configures the cache transport. An empty URL selects the
// in-process cache backend.
type RedisConfig struct {
	// URL is a redis connection URL, e.g. redis://localhost:6379/0
	URL string `yaml:"url"`
	// DialTimeout bounds the initial connection probe
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LLMConfig configures the text-generation gateway.
// Provider API keys are read from the environment by each provider
// (OPENAI_API_KEY, MINIMAX_API_KEY, ANTHROPIC_API_KEY); with no key set the
// gateway serves deterministic mock content.
type LLMConfig struct {
	// Provider is the default provider name (openai, minimax, anthropic)
	Provider string `yaml:"provider"`
	// Model is the default model identifier
	Model string `yaml:"model"`
	// Endpoint overrides the provider's default base URL
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps a single completion (0 = provider default)
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is the maximum time to wait for a completion
	Timeout time.Duration `yaml:"timeout"`
	// Capabilities optionally routes a capability (outline, content,
	// grammar, text) to a different provider/model than the default.
	Capabilities map[string]EndpointConfig `yaml:"capabilities"`
}

// EndpointConfig is a per-capability provider/model override.
type EndpointConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// WorkflowConfig carries the engine defaults. Per-document config overrides
// these field by field.
type WorkflowConfig struct {
	// ReadabilityThreshold is the readability gate floor (0-100)
	ReadabilityThreshold float64 `yaml:"readability_threshold"`
	// MaxRetries bounds gate-failure rollbacks per stage
	MaxRetries int `yaml:"max_retries"`
	// GrammarErrorLimit is the grammar gate ceiling
	GrammarErrorLimit int `yaml:"grammar_error_limit"`
	// CitationMinRate is the citation gate floor (0-1)
	CitationMinRate float64 `yaml:"citation_min_rate"`
	// StageTimeout bounds a single stage's wall time
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// InfraRetryLimit bounds retries of infrastructure failures per stage
	InfraRetryLimit int `yaml:"infra_retry_limit"`
	// InfraBackoffBase is the first infrastructure retry delay
	InfraBackoffBase time.Duration `yaml:"infra_backoff_base"`
	// InfraBackoffCap is the maximum infrastructure retry delay
	InfraBackoffCap time.Duration `yaml:"infra_backoff_cap"`
	// WritingMode is the default mode for new documents (academic, blog, social)
	WritingMode string `yaml:"writing_mode"`
	// TargetWordCount is the default draft length hint
	TargetWordCount int `yaml:"target_word_count"`
}

// CrossRefConfig configures the bibliographic lookup client
type CrossRefConfig struct {
	// BaseURL of a CrossRef-compatible works API
	BaseURL string `yaml:"base_url"`
	// Mailto is appended to the User-Agent per the CrossRef etiquette
	Mailto string `yaml:"mailto"`
	// Timeout bounds a single lookup
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig configures cache key namespacing
type CacheConfig struct {
	// Prefix namespaces every key (default: draftloop)
	Prefix string `yaml:"prefix"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			ShutdownTimeout: 15 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "", // In-process
			Stream:        "WORKFLOW",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Redis: RedisConfig{
			URL:         "", // In-process
			DialTimeout: 3 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   3000,
			Timeout:     2 * time.Minute,
		},
		Workflow: WorkflowConfig{
			ReadabilityThreshold: 70.0,
			MaxRetries:           3,
			GrammarErrorLimit:    5,
			CitationMinRate:      0.8,
			StageTimeout:         60 * time.Second,
			InfraRetryLimit:      3,
			InfraBackoffBase:     time.Second,
			InfraBackoffCap:      30 * time.Second,
			WritingMode:          "academic",
			TargetWordCount:      2000,
		},
		CrossRef: CrossRefConfig{
			BaseURL: "https://api.crossref.org",
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Prefix: "draftloop",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Workflow.ReadabilityThreshold < 0 || c.Workflow.ReadabilityThreshold > 100 {
		return fmt.Errorf("workflow.readability_threshold must be between 0 and 100")
	}
	if c.Workflow.MaxRetries < 1 {
		return fmt.Errorf("workflow.max_retries must be at least 1")
	}
	if c.Workflow.GrammarErrorLimit < 0 {
		return fmt.Errorf("workflow.grammar_error_limit must not be negative")
	}
	if c.Workflow.CitationMinRate < 0 || c.Workflow.CitationMinRate > 1 {
		return fmt.Errorf("workflow.citation_min_rate must be between 0 and 1")
	}
	if c.Workflow.InfraRetryLimit < 0 {
		return fmt.Errorf("workflow.infra_retry_limit must not be negative")
	}
	switch c.Workflow.WritingMode {
	case "academic", "blog", "social":
	default:
		return fmt.Errorf("workflow.writing_mode must be academic, blog, or social")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.CrossRef.BaseURL == "" {
		return fmt.Errorf("crossref.base_url is required")
	}
	if c.Cache.Prefix == "" {
		return fmt.Errorf("cache.prefix is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}

// Load loads configuration with precedence defaults < file < environment.
// An empty path falls back to DefaultPath when that file exists.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyEnv overlays DRAFTLOOP_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("DRAFTLOOP_HTTP_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("DRAFTLOOP_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DRAFTLOOP_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("DRAFTLOOP_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("DRAFTLOOP_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("DRAFTLOOP_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DRAFTLOOP_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("DRAFTLOOP_CROSSREF_URL"); v != "" {
		c.CrossRef.BaseURL = v
	}
	if v := os.Getenv("DRAFTLOOP_CROSSREF_MAILTO"); v != "" {
		c.CrossRef.Mailto = v
	}
	if v := os.Getenv("DRAFTLOOP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
