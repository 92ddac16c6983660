package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 512

// AnthropicGenerator writes fallback replies with the Messages API.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicGenerator builds a generator for apiKey. An empty baseURL uses the public API.
func NewAnthropicGenerator(log *slog.Logger, apiKey, baseURL, model string, maxTokens int) (*AnthropicGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic generator: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(baseURL), "/"), "/v1"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(opts...)
	return NewAnthropicGeneratorWithClient(log, &client, model, maxTokens), nil
}

// NewAnthropicGeneratorWithClient wraps an existing client.
func NewAnthropicGeneratorWithClient(log *slog.Logger, client *anthropic.Client, model string, maxTokens int) *AnthropicGenerator {
	if log == nil {
		log = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicGenerator{
		client:    client,
		model:     model,
		maxTokens: int64(maxTokens),
		logger:    log.With(slog.String("generator", "anthropic")),
	}
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Messages.New(ctx, buildParams(req, g.model, g.maxTokens))
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyReply
	}
	g.logger.Debug("fallback generated",
		slog.String("organization_id", req.OrganizationID),
		slog.Int64("input_tokens", resp.Usage.InputTokens),
		slog.Int64("output_tokens", resp.Usage.OutputTokens))
	return text, nil
}

func buildParams(req Request, model string, maxTokens int64) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(req)}},
		Messages:  buildMessages(req.History, req.Message),
	}
}

// buildMessages merges consecutive turns of one side and starts the thread with the contact.
func buildMessages(history []Turn, current string) []anthropic.MessageParam {
	type turn struct {
		user bool
		text []string
	}
	var turns []turn
	add := func(user bool, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if len(turns) == 0 && !user {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].user == user {
			turns[n-1].text = append(turns[n-1].text, text)
			return
		}
		turns = append(turns, turn{user: user, text: []string{text}})
	}
	for _, h := range history {
		add(h.FromContact, h.Content)
	}
	add(true, current)

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n"))
		if t.user {
			out = append(out, anthropic.NewUserMessage(block))
		} else {
			out = append(out, anthropic.NewAssistantMessage(block))
		}
	}
	return out
}

func systemPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are the first-line customer support assistant of a business talking to a customer over a chat app. ")
	sb.WriteString("Keep replies short, friendly and plain text. Never invent prices, policies or promises. ")
	if req.Language == LanguageTurkish {
		sb.WriteString("Reply in Turkish. ")
	} else {
		sb.WriteString("Reply in English. ")
	}
	if topics := joinTopics(req.Topics); topics != "" {
		sb.WriteString("You can only help with these topics: ")
		sb.WriteString(topics)
		sb.WriteString(". Politely steer other questions back to them. ")
	}
	if fields := joinTopics(req.RequiredIntakeFields); fields != "" {
		sb.WriteString("Before the team follows up, collect these details if the customer has not given them yet: ")
		sb.WriteString(fields)
		sb.WriteString(". Ask for at most one missing detail per reply.")
	}
	return strings.TrimSpace(sb.String())
}
