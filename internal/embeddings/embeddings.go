// Package embeddings turns text into vectors through an OpenAI-compatible API.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Embedder produces dense vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
	Dimensions() int
}

// OpenAIEmbedder calls POST {base}/v1/embeddings.
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	dims    int
	logger  *slog.Logger
	http    *http.Client
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder builds an embedder; baseURL, apiKey and model are required and dims must be positive.
func NewOpenAIEmbedder(log *slog.Logger, apiKey, baseURL, model string, dims int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("embedder: base url is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("embedder: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("embedder: model is required")
	}
	if dims <= 0 {
		return nil, errors.New("embedder: dimensions must be positive")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dims:    dims,
		logger:  log.With(slog.String("embedder", "openai")),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

// Embed returns the vector of one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embeddingRequest{Input: inputs, Model: e.model, Dimensions: e.dims})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.logger.Warn("close response body failed", slog.Any("error", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embeddings: decode response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("embeddings: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", len(inputs), len(parsed.Data))
	}
	out := make([][]float32, len(inputs))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, fmt.Errorf("embeddings: index %d out of range", item.Index)
		}
		if out[item.Index] != nil {
			return nil, fmt.Errorf("embeddings: duplicate index %d", item.Index)
		}
		if len(item.Embedding) != e.dims {
			return nil, fmt.Errorf("embeddings: expected dimension %d, got %d", e.dims, len(item.Embedding))
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
