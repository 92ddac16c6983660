// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath              = "config.toml"
	DefaultHTTPAddr                = ":8080"
	DefaultWebhookTimeoutSeconds   = 25
	DefaultPGHost                  = "127.0.0.1"
	DefaultPGPort                  = 5432
	DefaultPGUser                  = "postgres"
	DefaultPGDatabase              = "switchboard"
	DefaultPGSSLMode               = "disable"
	DefaultQdrantURL               = "http://127.0.0.1:6334"
	DefaultQdrantCollection        = "skills"
	DefaultEmbeddingBaseURL        = "https://api.openai.com"
	DefaultEmbeddingModel          = "text-embedding-3-small"
	DefaultEmbeddingDimensions     = 1536
	DefaultGeneratorModel          = "claude-haiku-4-5"
	DefaultGeneratorMaxTokens      = 512
	DefaultRabbitMQExchange        = "switchboard.events"
	DefaultSimilarityThreshold     = 0.6
	DefaultHistoryLimit            = 10
	DefaultLeadExtractionTimeout   = 30
	DefaultOutboundRatePerSecond   = 20
	DefaultOutboundBurst           = 5
	DefaultOutboundTimeoutSeconds  = 10
	DefaultWhatsAppGraphBaseURL    = "https://graph.facebook.com"
	DefaultWhatsAppGraphAPIVersion = "v21.0"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Qdrant    QdrantConfig    `toml:"qdrant"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Generator GeneratorConfig `toml:"generator"`
	RabbitMQ  RabbitMQConfig  `toml:"rabbitmq"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Outbound  OutboundConfig  `toml:"outbound"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP listen address and the per-webhook processing budget.
type ServerConfig struct {
	Addr                  string `toml:"addr"`
	WebhookTimeoutSeconds int    `toml:"webhook_timeout_seconds"`
}

// WebhookTimeout returns the processing deadline applied to one webhook delivery.
func (c ServerConfig) WebhookTimeout() time.Duration {
	if c.WebhookTimeoutSeconds <= 0 {
		return DefaultWebhookTimeoutSeconds * time.Second
	}
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// AuthConfig holds the HS256 secret used to verify operator tokens.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// QdrantConfig holds Qdrant base URL, API key, collection name, and timeout.
type QdrantConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Collection     string `toml:"collection"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// EmbeddingConfig points at an OpenAI-compatible /v1/embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// GeneratorConfig configures the Anthropic model used for fallback replies.
// An empty APIKey disables generation and every fallback degrades to the static reply.
type GeneratorConfig struct {
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

// RabbitMQConfig configures the event bus. An empty URL selects the no-op publisher.
type RabbitMQConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// PipelineConfig holds tunables of the inbound pipeline.
type PipelineConfig struct {
	DefaultSimilarityThreshold   float64 `toml:"default_similarity_threshold"`
	HistoryLimit                 int     `toml:"history_limit"`
	LeadExtractionTimeoutSeconds int     `toml:"lead_extraction_timeout_seconds"`
}

// LeadExtractionTimeout returns the budget of one detached lead extraction run.
func (c PipelineConfig) LeadExtractionTimeout() time.Duration {
	if c.LeadExtractionTimeoutSeconds <= 0 {
		return DefaultLeadExtractionTimeout * time.Second
	}
	return time.Duration(c.LeadExtractionTimeoutSeconds) * time.Second
}

// OutboundConfig throttles provider send calls.
type OutboundConfig struct {
	RatePerSecond  float64 `toml:"rate_per_second"`
	Burst          int     `toml:"burst"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// WhatsAppConfig holds the Graph API endpoint used by the WhatsApp send client.
type WhatsAppConfig struct {
	GraphBaseURL    string `toml:"graph_base_url"`
	GraphAPIVersion string `toml:"graph_api_version"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:                  DefaultHTTPAddr,
			WebhookTimeoutSeconds: DefaultWebhookTimeoutSeconds,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Qdrant: QdrantConfig{
			BaseURL:    DefaultQdrantURL,
			Collection: DefaultQdrantCollection,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    DefaultEmbeddingBaseURL,
			Model:      DefaultEmbeddingModel,
			Dimensions: DefaultEmbeddingDimensions,
		},
		Generator: GeneratorConfig{
			Model:     DefaultGeneratorModel,
			MaxTokens: DefaultGeneratorMaxTokens,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: DefaultRabbitMQExchange,
		},
		Pipeline: PipelineConfig{
			DefaultSimilarityThreshold:   DefaultSimilarityThreshold,
			HistoryLimit:                 DefaultHistoryLimit,
			LeadExtractionTimeoutSeconds: DefaultLeadExtractionTimeout,
		},
		Outbound: OutboundConfig{
			RatePerSecond:  DefaultOutboundRatePerSecond,
			Burst:          DefaultOutboundBurst,
			TimeoutSeconds: DefaultOutboundTimeoutSeconds,
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL:    DefaultWhatsAppGraphBaseURL,
			GraphAPIVersion: DefaultWhatsAppGraphAPIVersion,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
