// Package anthropic implements the generator contract on top of the
// official anthropic-sdk-go Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentloop"
)

// Config holds construction parameters for the adapter.
type Config struct {
	APIKey   string
	Endpoint string
	Headers  map[string]string
	Logger   *slog.Logger
}

// Provider is the anthropic adapter.
type Provider struct {
	client *anthropic.Client
	logger *slog.Logger
}

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w: API key is required", agentloop.ErrAuthRejected)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := anthropic.NewClient(opts...)
	return &Provider{client: &client, logger: logger}, nil
}

// Name returns the backend family identifier.
func (p *Provider) Name() agentloop.ProviderID {
	return agentloop.ProviderAnthropic
}

// SupportsModel accepts claude models only.
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// GenerateContent performs a one-shot message completion.
func (p *Provider) GenerateContent(ctx context.Context, req *agentloop.GenerationRequest) (*agentloop.GenerationResponse, error) {
	if !p.SupportsModel(req.Model) {
		return nil, &agentloop.ModelError{
			Model:    req.Model,
			Provider: p.Name().String(),
			Reason:   "model not supported (must start with 'claude-')",
			Err:      agentloop.ErrModelUnavailable,
		}
	}

	params, err := buildMessageParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(err)
	}
	return decodeMessage(message), nil
}

// CountTokens asks the API for an exact count.
func (p *Provider) CountTokens(ctx context.Context, req *agentloop.GenerationRequest) (int, error) {
	messages, err := buildMessages(req.Contents)
	if err != nil {
		return 0, err
	}
	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(req.Model),
		Messages: messages,
	}
	if system := req.Params.GetSystem(); system != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Type: "text", Text: system}},
		}
	}
	count, err := p.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, classifySDKError(err)
	}
	return int(count.InputTokens), nil
}

// EmbedContent is not served by this API surface.
func (p *Provider) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic: %w: embeddings are not offered", agentloop.ErrUnsupportedFeature)
}

// ListModels reports the models the account can use.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, classifySDKError(err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// classifySDKError maps SDK errors onto the shared failure taxonomy using
// the embedded HTTP status when one is present.
func classifySDKError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return agentloop.ClassifyStatus(agentloop.ProviderAnthropic.String(), apiErr.StatusCode, []byte(apiErr.Error()))
	}
	return fmt.Errorf("anthropic API call failed: %w", err)
}
