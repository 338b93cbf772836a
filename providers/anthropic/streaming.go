package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"agentloop"
)

// GenerateContentStream performs a streaming message completion. Text and
// thinking deltas are forwarded as they arrive; tool calls accumulate
// until the message is complete because their argument JSON streams in
// fragments.
func (p *Provider) GenerateContentStream(ctx context.Context, req *agentloop.GenerationRequest) (<-chan agentloop.GenerationChunk, error) {
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

	chunks := make(chan agentloop.GenerationChunk, 10)
	go func() {
		defer close(chunks)
		if err := p.streamChunks(ctx, params, chunks); err != nil {
			select {
			case chunks <- agentloop.ErrChunk(err):
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) streamChunks(ctx context.Context, params anthropic.MessageNewParams, chunks chan<- agentloop.GenerationChunk) error {
	stream := p.client.Messages.NewStreaming(ctx, params)

	// The accumulator rebuilds the full message so tool-call arguments and
	// final usage can be read once the stream ends.
	message := anthropic.Message{}

	for stream.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return fmt.Errorf("anthropic: %w: accumulate event: %v", agentloop.ErrInvalidStream, err)
		}

		var parts []*agentloop.Part
		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch e.Delta.Type {
			case "text_delta":
				if e.Delta.Text != "" {
					parts = append(parts, agentloop.TextPart(e.Delta.Text))
				}
			case "thinking_delta":
				if e.Delta.Thinking != "" {
					parts = append(parts, agentloop.ThoughtPart(e.Delta.Thinking))
				}
			}
		}
		if len(parts) == 0 {
			continue
		}

		select {
		case chunks <- agentloop.DeltaChunk(&agentloop.ContentDelta{
			Role:  agentloop.RoleModel,
			Parts: parts,
		}):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return classifySDKError(err)
	}
	if message.StopReason == "" {
		return fmt.Errorf("anthropic: %w: stream ended without stop reason", agentloop.ErrInvalidStream)
	}

	final := &agentloop.ContentDelta{
		Role:         agentloop.RoleModel,
		Model:        string(message.Model),
		Parts:        accumulatedToolCalls(&message),
		FinishReason: agentloop.MapAnthropicStopReason(string(message.StopReason)),
		Usage: &agentloop.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	select {
	case chunks <- agentloop.DeltaChunk(final):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func accumulatedToolCalls(message *anthropic.Message) []*agentloop.Part {
	var parts []*agentloop.Part
	for _, block := range message.Content {
		if block.Type != "tool_use" {
			continue
		}
		args := make(map[string]any)
		if len(block.Input) > 0 && strings.TrimSpace(string(block.Input)) != "" {
			if err := json.Unmarshal(block.Input, &args); err != nil {
				args = map[string]any{"raw": string(block.Input)}
			}
		}
		parts = append(parts, agentloop.FunctionCallPart(&agentloop.FunctionCall{
			ID:   block.ID,
			Name: block.Name,
			Args: args,
		}))
	}
	return parts
}
