// Package offline implements the generator contract without any network.
// It produces deterministic lorem ipsum output and hash-projected embedding
// vectors, serving development, tests, and last-resort fallback.
package offline

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	loremgen "github.com/bozaro/golorem"

	"agentloop"
)

const defaultMaxChars = 400

// Provider generates placeholder output in-process.
type Provider struct {
	generator *loremgen.Lorem
}

func NewProvider() *Provider {
	return &Provider{generator: loremgen.New()}
}

// Name returns the backend family identifier.
func (p *Provider) Name() agentloop.ProviderID {
	return agentloop.ProviderOffline
}

// SupportsModel accepts every model name. As the last fallback candidate
// this adapter must never decline a request.
func (p *Provider) SupportsModel(model string) bool {
	return true
}

// GenerateContent produces a short lorem ipsum reply sized against the
// request's token budget.
func (p *Provider) GenerateContent(ctx context.Context, req *agentloop.GenerationRequest) (*agentloop.GenerationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targetChars := defaultMaxChars
	if req.Params != nil && req.Params.MaxTokens != nil {
		targetChars = *req.Params.MaxTokens * 4
	}
	text := p.generateText(targetChars)

	inputTokens := agentloop.EstimateTokens(req)
	outputTokens := agentloop.EstimateTextTokens(text)
	return &agentloop.GenerationResponse{
		Content:      agentloop.NewTextContent(agentloop.RoleModel, text),
		Model:        req.Model,
		FinishReason: agentloop.FinishStop,
		Usage: &agentloop.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}, nil
}

// GenerateContentStream wraps the one-shot result as a single-chunk stream.
func (p *Provider) GenerateContentStream(ctx context.Context, req *agentloop.GenerationRequest) (<-chan agentloop.GenerationChunk, error) {
	resp, err := p.GenerateContent(ctx, req)
	if err != nil {
		return nil, err
	}
	return agentloop.SingleChunkStream(resp), nil
}

// CountTokens estimates from prompt length.
func (p *Provider) CountTokens(ctx context.Context, req *agentloop.GenerationRequest) (int, error) {
	return agentloop.EstimateTokens(req), nil
}

// EmbedContent produces deterministic vectors by hashing each word into a
// fixed number of dimensions. Equal texts embed equally, which is all the
// offline surface promises.
func (p *Provider) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashVector(text, agentloop.EstimateEmbeddingDims)
	}
	return vectors, nil
}

func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (p *Provider) generateText(targetChars int) string {
	var sb strings.Builder
	for sb.Len() < targetChars {
		sb.WriteString(p.generator.Paragraph(2, 4))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
