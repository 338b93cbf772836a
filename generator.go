package agentloop

import (
	"context"
)

// ProviderID identifies a backend family.
type ProviderID string

const (
	ProviderGemini       ProviderID = "gemini"
	ProviderAnthropic    ProviderID = "anthropic"
	ProviderOpenAICompat ProviderID = "openai-compat"
	ProviderOllama       ProviderID = "ollama"
	ProviderOffline      ProviderID = "offline"
)

// String returns the string form of the provider id.
func (p ProviderID) String() string { return string(p) }

// IsValid returns true for a known provider id.
func (p ProviderID) IsValid() bool {
	switch p {
	case ProviderGemini, ProviderAnthropic, ProviderOpenAICompat, ProviderOllama, ProviderOffline:
		return true
	default:
		return false
	}
}

// ContentGenerator is the contract every backend adapter implements. Adapter
// instances are stateless per call and safe for concurrent use by
// independent turns.
type ContentGenerator interface {
	// GenerateContent performs a one-shot (non-streaming) call.
	GenerateContent(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error)

	// GenerateContentStream performs a streaming call. The returned channel
	// emits strictly ordered chunks and is closed when the call completes;
	// the final content delta carries the finish reason. Errors after the
	// stream has opened arrive as Err chunks.
	GenerateContentStream(ctx context.Context, req *GenerationRequest) (<-chan GenerationChunk, error)

	// CountTokens returns the token count of the request, approximated by
	// content-length heuristics when the backend has no token endpoint.
	CountTokens(ctx context.Context, req *GenerationRequest) (int, error)

	// EmbedContent returns one embedding vector per input text.
	EmbedContent(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the backend family identifier.
	Name() ProviderID

	// SupportsModel reports whether the adapter recognizes the model name.
	SupportsModel(model string) bool
}

// ModelLister is implemented by adapters whose backend exposes a
// model-listing endpoint. The fallback resolver's discovery probe uses it
// to find any advertised model.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// SingleChunkStream wraps a one-shot response as a single-chunk stream so
// callers see a uniform interface regardless of which fallback candidate
// produced the result.
func SingleChunkStream(resp *GenerationResponse) <-chan GenerationChunk {
	ch := make(chan GenerationChunk, 1)
	reason := resp.FinishReason
	if reason == FinishUnspecified {
		reason = FinishStop
	}
	ch <- DeltaChunk(&ContentDelta{
		Role:         resp.Content.Role,
		Model:        resp.Model,
		Parts:        resp.Content.Parts,
		FinishReason: reason,
		Usage:        resp.Usage,
	})
	close(ch)
	return ch
}

// EstimateTokens approximates the token count of a request from its text
// length, roughly four characters per token. Best-effort, not
// billing-accurate.
func EstimateTokens(req *GenerationRequest) int {
	chars := len(req.Params.GetSystem())
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			switch {
			case p.Text != "":
				chars += len(p.Text)
			case p.InlineData != nil:
				chars += len(p.InlineData.Data)
			}
		}
	}
	tokens := chars / 4
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

// EstimateTextTokens applies the same four-characters-per-token heuristic
// to a bare string.
func EstimateTextTokens(text string) int {
	tokens := len(text) / 4
	if tokens == 0 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}

// EstimateEmbeddingDims is the vector width used by offline embedding
// approximations.
const EstimateEmbeddingDims = 256