// Package config provides configuration loading for grantmatchd.
//
// Configuration comes from an optional YAML file overlaid with environment
// variables (prefix GRANTMATCH_). Required provider credentials are validated
// at load time so misconfiguration fails at startup, not at first use.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
)

// Config holds the complete grantmatchd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Matching MatchingConfig `koanf:"matching"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	// DSN is the lib/pq connection string. Required.
	DSN string `koanf:"dsn"`

	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// OpenAIConfig holds embedding/chat provider configuration.
type OpenAIConfig struct {
	// APIKey authenticates against the provider. Required.
	APIKey string `koanf:"api_key"`

	// BaseURL is the provider endpoint (OpenAI-compatible).
	BaseURL string `koanf:"base_url"`

	// EmbeddingModel is the default embedding model.
	EmbeddingModel string `koanf:"embedding_model"`

	// ChatModel is the default chat model for relevance analysis.
	ChatModel string `koanf:"chat_model"`

	Timeout time.Duration `koanf:"timeout"`
}

// QdrantConfig holds vector store configuration.
type QdrantConfig struct {
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int `koanf:"port"`

	// IndexName prefixes every namespace collection. Required.
	IndexName string `koanf:"index_name"`

	// Dimension is the embedding width; all stored and queried vectors must
	// match it. Required.
	Dimension int `koanf:"dimension"`

	UseTLS bool `koanf:"use_tls"`

	// Region is the cloud region used when provisioning the index.
	Region string `koanf:"region"`
}

// MatchingConfig holds orchestrator tuning knobs.
type MatchingConfig struct {
	// TopK is the default candidate count for semantic search.
	TopK int `koanf:"top_k"`

	// AnalysisConcurrency bounds in-flight relevance analyses.
	AnalysisConcurrency int `koanf:"analysis_concurrency"`

	// CacheMaxAge makes cached analyses older than the window count as
	// misses. Zero means cached rows are reused unconditionally.
	CacheMaxAge time.Duration `koanf:"cache_max_age"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com"
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 60 * time.Second
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Dimension == 0 {
		c.Qdrant.Dimension = 1536
	}
	if c.Matching.TopK == 0 {
		c.Matching.TopK = 20
	}
	if c.Matching.AnalysisConcurrency == 0 {
		c.Matching.AnalysisConcurrency = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: openai.api_key is required (GRANTMATCH_OPENAI_API_KEY)", errs.ErrValidation)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required (GRANTMATCH_DATABASE_DSN)", errs.ErrValidation)
	}
	if c.Qdrant.IndexName == "" {
		return fmt.Errorf("%w: qdrant.index_name is required (GRANTMATCH_QDRANT_INDEX_NAME)", errs.ErrValidation)
	}
	if c.Qdrant.Dimension <= 0 {
		return fmt.Errorf("%w: qdrant.dimension must be positive", errs.ErrValidation)
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant.port: %d", errs.ErrValidation, c.Qdrant.Port)
	}
	return nil
}
