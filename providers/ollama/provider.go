// Package ollama implements the generator contract against a local ollama
// daemon using its native /api surface. Streaming responses arrive as
// newline-delimited JSON objects rather than SSE frames.
package ollama

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"agentloop"
)

const defaultEndpoint = "http://localhost:11434"

// Config holds construction parameters for the adapter.
type Config struct {
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Provider is the ollama adapter. The daemon is unauthenticated; custom
// headers are still forwarded for proxied deployments.
type Provider struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewProvider(cfg Config) (*Provider, error) {
	baseURL := strings.TrimSuffix(cfg.Endpoint, "/")
	if baseURL == "" {
		baseURL = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		baseURL:    baseURL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Name returns the backend family identifier.
func (p *Provider) Name() agentloop.ProviderID {
	return agentloop.ProviderOllama
}

// SupportsModel accepts any non-empty name; the daemon decides what it has
// pulled, and ListModels exposes that set for discovery.
func (p *Provider) SupportsModel(model string) bool {
	return model != ""
}

// GenerateContent performs a one-shot chat completion.
func (p *Provider) GenerateContent(ctx context.Context, req *agentloop.GenerationRequest) (*agentloop.GenerationResponse, error) {
	wireReq := buildChatRequest(req)
	wireReq.Stream = false

	resp, err := p.post(ctx, "/api/chat", wireReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("ollama: %w: decode response: %v", agentloop.ErrInvalidStream, err)
	}
	return decodeChatResponse(&wire)
}

// CountTokens estimates; the daemon has no counting endpoint and eval
// counts only exist after generation.
func (p *Provider) CountTokens(ctx context.Context, req *agentloop.GenerationRequest) (int, error) {
	return agentloop.EstimateTokens(req), nil
}

// EmbedContent embeds each text through /api/embeddings using the
// registry's embedding model for this backend.
func (p *Provider) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	models, _ := agentloop.LookupProviderModels(agentloop.ProviderOllama)
	if models.EmbeddingModel == "" {
		return nil, fmt.Errorf("ollama: %w: no embedding model registered", agentloop.ErrUnsupportedFeature)
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		resp, err := p.post(ctx, "/api/embeddings", &embeddingRequest{
			Model:  models.EmbeddingModel,
			Prompt: text,
		})
		if err != nil {
			return nil, err
		}
		var wire embeddingResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&wire)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, agentloop.ClassifyStatus(p.Name().String(), resp.StatusCode, nil)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("ollama: decode embedding: %w", decodeErr)
		}
		vec := make([]float32, len(wire.Embedding))
		for i, v := range wire.Embedding {
			vec[i] = float32(v)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// ListModels reports the models the daemon has pulled locally.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}

	var wire struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	names := make([]string, 0, len(wire.Models))
	for _, m := range wire.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *Provider) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	return resp, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

func (p *Provider) classify(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return agentloop.ClassifyStatus(p.Name().String(), resp.StatusCode, body)
}
