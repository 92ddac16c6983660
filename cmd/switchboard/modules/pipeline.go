package modules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/memohai/switchboard/internal/boot"
	"github.com/memohai/switchboard/internal/channel"
	"github.com/memohai/switchboard/internal/config"
	"github.com/memohai/switchboard/internal/conversation"
	"github.com/memohai/switchboard/internal/dedup"
	"github.com/memohai/switchboard/internal/embeddings"
	"github.com/memohai/switchboard/internal/escalation"
	"github.com/memohai/switchboard/internal/event"
	"github.com/memohai/switchboard/internal/fallback"
	"github.com/memohai/switchboard/internal/inbound"
	"github.com/memohai/switchboard/internal/lead"
	"github.com/memohai/switchboard/internal/message"
	"github.com/memohai/switchboard/internal/outbound"
	"github.com/memohai/switchboard/internal/settings"
	"github.com/memohai/switchboard/internal/skills"
)

var PipelineModule = fx.Module(
	"pipeline",
	fx.Provide(
		provideDedupGate,
		provideSkillRanker,
		skills.NewMatcher,
		provideEscalationService,
		provideFallbackResponder,
		provideDispatcher,
		provideLeadTrigger,
		provideInboundProcessor,
	),
)

// ---------------------------------------------------------------------------
// pipeline providers
// ---------------------------------------------------------------------------

func provideDedupGate(log *slog.Logger, messages *message.DBService) *dedup.Gate {
	return dedup.NewGate(log, messages)
}

// provideSkillRanker returns nil when no embedding key is configured; the matcher then never matches.
func provideSkillRanker(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) (skills.Ranker, error) {
	if !rc.SkillSearchEnabled() {
		log.Warn("embedding api key not configured; skill matching disabled")
		return nil, nil
	}
	index, err := NewQdrantIndex(log, cfg, rc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return index.Close()
		},
	})
	return index, nil
}

// NewQdrantIndex builds the embedding client and the Qdrant-backed skill index.
func NewQdrantIndex(log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) (*skills.QdrantIndex, error) {
	embedder, err := embeddings.NewOpenAIEmbedder(log,
		rc.EmbeddingAPIKey,
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	index, err := skills.NewQdrantIndex(log, embedder,
		cfg.Qdrant.BaseURL,
		cfg.Qdrant.APIKey,
		cfg.Qdrant.Collection,
		time.Duration(cfg.Qdrant.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("create qdrant index: %w", err)
	}
	return index, nil
}

func provideEscalationService(log *slog.Logger, store conversation.Store) *escalation.Service {
	return escalation.NewService(log, escalation.RulePolicy{}, store)
}

// provideFallbackResponder degrades every fallback to the static reply when no Anthropic key is configured.
func provideFallbackResponder(log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) (*fallback.Responder, error) {
	if !rc.GenerationEnabled() {
		log.Warn("anthropic api key not configured; fallback replies are static")
		return fallback.NewResponder(log, nil), nil
	}
	gen, err := fallback.NewAnthropicGenerator(log, rc.AnthropicAPIKey, cfg.Generator.BaseURL, cfg.Generator.Model, cfg.Generator.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}
	return fallback.NewResponder(log, gen), nil
}

func provideDispatcher(log *slog.Logger, cfg config.Config, registry *channel.Registry, messages *message.DBService, store conversation.Store) *outbound.Dispatcher {
	return outbound.NewDispatcher(log, registry, messages, store, outbound.Options{
		RatePerSecond: cfg.Outbound.RatePerSecond,
		Burst:         cfg.Outbound.Burst,
		SendTimeout:   time.Duration(cfg.Outbound.TimeoutSeconds) * time.Second,
	})
}

// leadExtractor publishes extraction requests only when a broker is configured.
func leadExtractor(rc *boot.RuntimeConfig, publisher event.Publisher) lead.Extractor {
	if !rc.EventBusEnabled() {
		return lead.NopExtractor{}
	}
	return lead.NewEventExtractor(publisher)
}

func provideLeadTrigger(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig, messages *message.DBService, publisher event.Publisher) *lead.Trigger {
	trigger := lead.NewTrigger(log, messages, leadExtractor(rc, publisher), cfg.Pipeline.LeadExtractionTimeout())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				trigger.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return trigger
}

type processorParams struct {
	fx.In

	Logger     *slog.Logger
	Config     config.Config
	Dedup      *dedup.Gate
	Resolver   *conversation.Resolver
	Store      conversation.Store
	Messages   *message.DBService
	Settings   *settings.Service
	Skills     *skills.Matcher
	Escalation *escalation.Service
	Fallback   *fallback.Responder
	Outbound   *outbound.Dispatcher
	Lead       *lead.Trigger
	Events     event.Publisher
}

func provideInboundProcessor(p processorParams) *inbound.Processor {
	return inbound.NewProcessor(p.Logger, inbound.Deps{
		Dedup:         p.Dedup,
		Resolver:      p.Resolver,
		Conversations: p.Store,
		Messages:      p.Messages,
		Settings:      p.Settings,
		Skills:        p.Skills,
		Escalation:    p.Escalation,
		Fallback:      p.Fallback,
		Outbound:      p.Outbound,
		Lead:          p.Lead,
		Events:        p.Events,
	}, p.Config.Pipeline.HistoryLimit)
}
