// Package gemini implements the generator contract against the
// generativelanguage REST surface. Generation and streaming use the raw
// v1beta endpoints; token counting and embeddings go through the genai SDK.
package gemini

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"google.golang.org/genai"

	"agentloop"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config holds construction parameters for the adapter.
type Config struct {
	APIKey   string
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Provider is the gemini adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	sdkOnce sync.Once
	sdk     *genai.Client
	sdkErr  error
}

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w: API key is required", agentloop.ErrAuthRejected)
	}
	baseURL := strings.TrimSuffix(cfg.Endpoint, "/")
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
	return agentloop.ProviderGemini
}

// SupportsModel accepts the gemini model families this surface serves.
func (p *Provider) SupportsModel(model string) bool {
	model = strings.TrimPrefix(model, "models/")
	return strings.HasPrefix(model, "gemini-") || strings.HasPrefix(model, "gemma-")
}

// GenerateContent performs a one-shot generation.
func (p *Provider) GenerateContent(ctx context.Context, req *agentloop.GenerationRequest) (*agentloop.GenerationResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	resp, err := p.post(ctx, url, buildGenerateRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}

	var wire geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("gemini: %w: decode response: %v", agentloop.ErrInvalidStream, err)
	}
	return decodeGenerateResponse(&wire)
}

// CountTokens asks the API for an exact count through the SDK.
func (p *Provider) CountTokens(ctx context.Context, req *agentloop.GenerationRequest) (int, error) {
	client, err := p.sdkClient(ctx)
	if err != nil {
		return 0, err
	}
	contents := make([]*genai.Content, 0, len(req.Contents))
	for _, content := range req.Contents {
		role := genai.Role(genai.RoleUser)
		if content.Role == agentloop.RoleModel {
			role = genai.Role(genai.RoleModel)
		}
		text := content.Text()
		if text == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	result, err := client.Models.CountTokens(ctx, req.Model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini count tokens: %w", err)
	}
	return int(result.TotalTokens), nil
}

// EmbedContent embeds all texts in one SDK batch call using the registry's
// embedding model.
func (p *Provider) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := p.sdkClient(ctx)
	if err != nil {
		return nil, err
	}
	models, _ := agentloop.LookupProviderModels(agentloop.ProviderGemini)
	model := models.EmbeddingModel
	if model == "" {
		model = "gemini-embedding-001"
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// ListModels reports the generation-capable models the API serves.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/models?key=%s", p.baseURL, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.classify(resp)
	}

	var wire struct {
		Models []struct {
			Name             string   `json:"name"`
			SupportedMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("gemini: decode model list: %w", err)
	}

	var names []string
	for _, m := range wire.Models {
		generates := false
		for _, method := range m.SupportedMethods {
			if method == "generateContent" {
				generates = true
				break
			}
		}
		if generates {
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	return names, nil
}

func (p *Provider) sdkClient(ctx context.Context) (*genai.Client, error) {
	p.sdkOnce.Do(func() {
		p.sdk, p.sdkErr = genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
	})
	if p.sdkErr != nil {
		return nil, fmt.Errorf("gemini: create client: %w", p.sdkErr)
	}
	return p.sdk, nil
}

func (p *Provider) post(ctx context.Context, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
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
