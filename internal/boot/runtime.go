// Package boot provides runtime configuration resolved from config plus environment overrides.
package boot

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/memohai/switchboard/internal/config"
)

// RuntimeConfig holds the secrets and endpoints the process actually runs with.
// Values may be overridden by environment variables (HTTP_ADDR, JWT_SECRET, ANTHROPIC_API_KEY,
// EMBEDDING_API_KEY, RABBITMQ_URL).
type RuntimeConfig struct {
	JwtSecret       string
	ServerAddr      string
	WebhookTimeout  time.Duration
	AnthropicAPIKey string
	EmbeddingAPIKey string
	RabbitMQURL     string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		JwtSecret:       cfg.Auth.JWTSecret,
		ServerAddr:      cfg.Server.Addr,
		WebhookTimeout:  cfg.Server.WebhookTimeout(),
		AnthropicAPIKey: cfg.Generator.APIKey,
		EmbeddingAPIKey: cfg.Embedding.APIKey,
		RabbitMQURL:     cfg.RabbitMQ.URL,
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("JWT_SECRET"); value != "" {
		ret.JwtSecret = value
	}
	if value := os.Getenv("ANTHROPIC_API_KEY"); value != "" {
		ret.AnthropicAPIKey = value
	}
	if value := os.Getenv("EMBEDDING_API_KEY"); value != "" {
		ret.EmbeddingAPIKey = value
	}
	if value := os.Getenv("RABBITMQ_URL"); value != "" {
		ret.RabbitMQURL = value
	}

	if strings.TrimSpace(ret.JwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return ret, nil
}

// GenerationEnabled reports whether fallback replies are generated by a model.
func (r *RuntimeConfig) GenerationEnabled() bool {
	return strings.TrimSpace(r.AnthropicAPIKey) != ""
}

// SkillSearchEnabled reports whether skills are ranked by vector search.
func (r *RuntimeConfig) SkillSearchEnabled() bool {
	return strings.TrimSpace(r.EmbeddingAPIKey) != ""
}

// EventBusEnabled reports whether events are published to RabbitMQ.
func (r *RuntimeConfig) EventBusEnabled() bool {
	return strings.TrimSpace(r.RabbitMQURL) != ""
}
