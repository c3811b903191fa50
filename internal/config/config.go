// Package config loads runtime configuration from an optional YAML file
// with environment-variable overrides on top, so a bare environment is
// enough to run and a config file pins everything down for deployments.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the chat-completion endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`

	ExtractMaxTokens   int     `yaml:"extract_max_tokens"`
	SummarizeMaxTokens int     `yaml:"summarize_max_tokens"`
	SummarizeTemp      float64 `yaml:"summarize_temperature"`
}

// EmbeddingConfig configures the embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// ResolveConfig tunes entity resolution.
type ResolveConfig struct {
	CandidateThreshold float64 `yaml:"candidate_threshold"`
	CandidateLimit     int     `yaml:"candidate_limit"`
}

// Config is the root configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Resolve   ResolveConfig   `yaml:"resolve"`
	LogLevel  string          `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath: "data/kgraph.db",
		LLM: LLMConfig{
			BaseURL:            "http://localhost:8317/v1",
			APIKey:             "not-required",
			Model:              "gemini-2.5-flash-lite",
			Temperature:        0.1,
			ExtractMaxTokens:   3000,
			SummarizeMaxTokens: 3000,
			SummarizeTemp:      0.1,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			CacheSize: 10000,
		},
		Resolve: ResolveConfig{
			CandidateThreshold: 0.70,
			CandidateLimit:     5,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty it must exist), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DBPath, "KGRAPH_DB_PATH")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	setString(&c.Embedding.Model, "EMBEDDING_MODEL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setFloat(&c.Resolve.CandidateThreshold, "RESOLVE_THRESHOLD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
