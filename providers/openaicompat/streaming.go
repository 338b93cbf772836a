package openaicompat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"agentloop"
)

// chatCompletionChunk is one SSE data payload of a streamed completion.
type chatCompletionChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Delta        chunkDelta `json:"delta"`
		FinishReason *string    `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type chunkDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   *string        `json:"content,omitempty"`
	Reasoning *string        `json:"reasoning,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

// GenerateContentStream performs a streaming chat completion. SSE frames
// are `data: <json>` lines terminated by a literal [DONE]; unparsable lines
// are skipped, not fatal.
func (p *Provider) GenerateContentStream(ctx context.Context, req *agentloop.GenerationRequest) (<-chan agentloop.GenerationChunk, error) {
	wireReq := buildChatCompletionRequest(req)
	wireReq.Stream = true

	httpReq, err := p.buildHTTPRequest(ctx, "/chat/completions", wireReq)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.classify(resp)
	}

	chunks := make(chan agentloop.GenerationChunk, 10)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		if err := p.streamChunks(ctx, resp.Body, chunks); err != nil {
			select {
			case chunks <- agentloop.ErrChunk(err):
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) streamChunks(ctx context.Context, body io.Reader, chunks chan<- agentloop.GenerationChunk) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Tool-call fragments accumulate by choice index until the finish
	// reason arrives; arguments stream as partial JSON strings.
	pendingCalls := make(map[int]*pendingToolCall)
	var usage *agentloop.Usage
	var model string
	sawDone := false
	finishReason := agentloop.FinishUnspecified

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Keep-alive noise and vendor extensions are skipped; an error
			// body mid-stream is not.
			var errFrame struct {
				Error struct {
					Message string `json:"message"`
					Code    int    `json:"code"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(data), &errFrame) == nil && errFrame.Error.Message != "" {
				return &agentloop.ProviderError{
					Provider:   p.Name().String(),
					Kind:       agentloop.FailureTransient,
					StatusCode: errFrame.Error.Code,
					Message:    errFrame.Error.Message,
				}
			}
			p.logger.Debug("skipping unparsable stream line", "line", data)
			continue
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = &agentloop.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		var parts []*agentloop.Part
		if choice.Delta.Reasoning != nil && *choice.Delta.Reasoning != "" {
			parts = append(parts, agentloop.ThoughtPart(*choice.Delta.Reasoning))
		}
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			parts = append(parts, agentloop.TextPart(*choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			accumulateToolCall(pendingCalls, tc)
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = agentloop.MapOpenAIFinishReason(*choice.FinishReason)
			calls, err := flushToolCalls(pendingCalls)
			if err != nil {
				return err
			}
			parts = append(parts, calls...)
			delta := &agentloop.ContentDelta{
				Role:         agentloop.RoleModel,
				Model:        model,
				Parts:        parts,
				FinishReason: finishReason,
				Usage:        usage,
			}
			select {
			case chunks <- agentloop.DeltaChunk(delta):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
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

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !sawDone && finishReason == agentloop.FinishUnspecified {
		return fmt.Errorf("openai-compat: %w: stream closed before [DONE]", agentloop.ErrInvalidStream)
	}
	return nil
}

// pendingToolCall accumulates streamed tool-call fragments.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func accumulateToolCall(pending map[int]*pendingToolCall, tc wireToolCall) {
	idx := len(pending)
	if tc.ID != "" {
		for i, pc := range pending {
			if pc.id == tc.ID {
				idx = i
				break
			}
		}
	} else if len(pending) > 0 {
		// Fragments without an id continue the most recent call.
		idx = len(pending) - 1
	}
	pc, ok := pending[idx]
	if !ok {
		pc = &pendingToolCall{}
		pending[idx] = pc
	}
	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Function.Name != "" {
		pc.name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		pc.args.WriteString(tc.Function.Arguments)
	}
}

func flushToolCalls(pending map[int]*pendingToolCall) ([]*agentloop.Part, error) {
	var parts []*agentloop.Part
	for idx := 0; idx < len(pending); idx++ {
		pc, ok := pending[idx]
		if !ok {
			continue
		}
		args := make(map[string]any)
		if pc.args.Len() > 0 {
			if err := json.Unmarshal([]byte(pc.args.String()), &args); err != nil {
				return nil, fmt.Errorf("openai-compat: %w: malformed tool arguments %q", agentloop.ErrInvalidStream, pc.args.String())
			}
		}
		parts = append(parts, agentloop.FunctionCallPart(&agentloop.FunctionCall{
			ID:   pc.id,
			Name: pc.name,
			Args: args,
		}))
	}
	return parts, nil
}
