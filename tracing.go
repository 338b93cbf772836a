package agentloop

import (
	"context"
	"strings"
	"time"
)

// GenerationTrace captures one adapter interaction for replay or metrics.
type GenerationTrace struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	PromptID   string        `json:"prompt_id,omitempty"`
	Streaming  bool          `json:"streaming"`
	Duration   time.Duration `json:"duration"`
	InputText  string        `json:"input_text,omitempty"`
	OutputText string        `json:"output_text,omitempty"`
	Usage      *Usage        `json:"usage,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// TraceSink receives completed traces. Implementations decide where they go
// (file, metrics, replay store); this layer only produces them.
type TraceSink interface {
	Record(trace *GenerationTrace)
}

// TracingGenerator wraps any ContentGenerator and records request/response
// pairs through a TraceSink. It preserves the wrapped call signature, so it
// can stack with the fallback resolver in either order.
type TracingGenerator struct {
	underlying ContentGenerator
	sink       TraceSink
}

// NewTracingGenerator builds the decorator.
func NewTracingGenerator(underlying ContentGenerator, sink TraceSink) *TracingGenerator {
	return &TracingGenerator{underlying: underlying, sink: sink}
}

// Name defers to the wrapped generator.
func (t *TracingGenerator) Name() ProviderID { return t.underlying.Name() }

// SupportsModel defers to the wrapped generator.
func (t *TracingGenerator) SupportsModel(model string) bool {
	return t.underlying.SupportsModel(model)
}

// CountTokens defers to the wrapped generator without tracing.
func (t *TracingGenerator) CountTokens(ctx context.Context, req *GenerationRequest) (int, error) {
	return t.underlying.CountTokens(ctx, req)
}

// EmbedContent defers to the wrapped generator without tracing.
func (t *TracingGenerator) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	return t.underlying.EmbedContent(ctx, texts)
}

// GenerateContent records one trace per one-shot call.
func (t *TracingGenerator) GenerateContent(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	start := time.Now()
	resp, err := t.underlying.GenerateContent(ctx, req)

	trace := &GenerationTrace{
		Provider:  t.underlying.Name().String(),
		Model:     req.Model,
		PromptID:  req.PromptID,
		Duration:  time.Since(start),
		InputText: FlattenContents(req.Contents),
	}
	if err != nil {
		trace.Err = err.Error()
	} else {
		trace.OutputText = resp.Text()
		trace.Usage = resp.Usage
	}
	t.sink.Record(trace)
	return resp, err
}

// GenerateContentStream records one trace covering the whole stream; the
// trace is emitted when the stream closes.
func (t *TracingGenerator) GenerateContentStream(ctx context.Context, req *GenerationRequest) (<-chan GenerationChunk, error) {
	start := time.Now()
	stream, err := t.underlying.GenerateContentStream(ctx, req)
	if err != nil {
		t.sink.Record(&GenerationTrace{
			Provider:  t.underlying.Name().String(),
			Model:     req.Model,
			PromptID:  req.PromptID,
			Streaming: true,
			Duration:  time.Since(start),
			InputText: FlattenContents(req.Contents),
			Err:       err.Error(),
		})
		return nil, err
	}

	out := make(chan GenerationChunk)
	go func() {
		defer close(out)
		trace := &GenerationTrace{
			Provider:  t.underlying.Name().String(),
			Model:     req.Model,
			PromptID:  req.PromptID,
			Streaming: true,
			InputText: FlattenContents(req.Contents),
		}
		var output []string
		for chunk := range stream {
			if chunk.Delta != nil {
				for _, p := range chunk.Delta.Parts {
					if p.IsText() && p.Text != "" {
						output = append(output, p.Text)
					}
				}
				if chunk.Delta.Usage != nil {
					trace.Usage = chunk.Delta.Usage
				}
			}
			if chunk.Err != nil {
				trace.Err = chunk.Err.Error()
			}
			out <- chunk
		}
		trace.Duration = time.Since(start)
		trace.OutputText = strings.Join(output, " ")
		t.sink.Record(trace)
	}()
	return out, nil
}
