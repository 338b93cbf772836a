// Package openaicompat implements the generator contract against any
// OpenAI-compatible endpoint: hosted gateways as well as local inference
// daemons that expose the /v1 chat surface.
package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"agentloop"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds construction parameters for the adapter.
type Config struct {
	APIKey   string
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Provider is the OpenAI-compatible adapter. Instances are stateless per
// call and safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider builds the adapter. An endpoint without an API key is allowed
// (local daemons exposing this surface are unauthenticated); neither is a
// configuration the factory rejects earlier.
func NewProvider(cfg Config) (*Provider, error) {
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Name returns the backend family identifier.
func (p *Provider) Name() agentloop.ProviderID {
	return agentloop.ProviderOpenAICompat
}

// SupportsModel accepts any non-empty model name; compatible gateways proxy
// arbitrary model identifiers and the server is the source of truth.
func (p *Provider) SupportsModel(model string) bool {
	return model != ""
}

// GenerateContent performs a one-shot chat completion.
func (p *Provider) GenerateContent(ctx context.Context, req *agentloop.GenerationRequest) (*agentloop.GenerationResponse, error) {
	wireReq := buildChatCompletionRequest(req)
	wireReq.Stream = false

	httpReq, err := p.buildHTTPRequest(ctx, "/chat/completions", wireReq)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return decodeChatCompletionResponse(&completion)
}

// CountTokens approximates the token count by content length; the chat
// surface has no token endpoint.
func (p *Provider) CountTokens(_ context.Context, req *agentloop.GenerationRequest) (int, error) {
	return agentloop.EstimateTokens(req), nil
}

// EmbedContent calls the /embeddings endpoint.
func (p *Provider) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := agentloop.DefaultModelFor(agentloop.ProviderOpenAICompat)
	if entry, ok := agentloop.LookupProviderModels(agentloop.ProviderOpenAICompat); ok && entry.EmbeddingModel != "" {
		model = entry.EmbeddingModel
	}
	httpReq, err := p.buildHTTPRequest(ctx, "/embeddings", embeddingRequest{
		Model: model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compat embeddings request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings body: %w", err)
	}
	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embeddings: %w", err)
	}
	vectors := make([][]float32, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			continue
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// ListModels queries the /models listing, used by the fallback discovery
// probe.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compat model listing failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("parse model listing: %w", err)
	}
	models := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}

func (p *Provider) buildHTTPRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)
	return httpReq, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

// classify folds a non-2xx response into the normalized failure shape.
func (p *Provider) classify(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return agentloop.ClassifyStatus(p.Name().String(), resp.StatusCode, body)
}
