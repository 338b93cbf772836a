package ollama

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

// GenerateContentStream performs a streaming chat completion. Each line of
// the body is one JSON object; the object with done=true ends the stream
// and carries the finish reason and token counts.
func (p *Provider) GenerateContentStream(ctx context.Context, req *agentloop.GenerationRequest) (<-chan agentloop.GenerationChunk, error) {
	wireReq := buildChatRequest(req)
	wireReq.Stream = true

	resp, err := p.post(ctx, "/api/chat", wireReq)
	if err != nil {
		return nil, err
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

	sawDone := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var wire chatResponse
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			p.logger.Debug("skipping unparsable stream line", "line", line)
			continue
		}
		if wire.Error != "" {
			return &agentloop.ProviderError{
				Provider: p.Name().String(),
				Kind:     agentloop.FailureTransient,
				Message:  wire.Error,
			}
		}

		delta := &agentloop.ContentDelta{
			Role:  agentloop.RoleModel,
			Parts: decodeMessageParts(&wire.Message),
		}
		if wire.Done {
			sawDone = true
			delta.Model = wire.Model
			delta.FinishReason = mapDoneReason(wire.DoneReason)
			if delta.FinishReason == agentloop.FinishUnspecified {
				delta.FinishReason = agentloop.FinishStop
			}
			delta.Usage = &agentloop.Usage{
				InputTokens:  wire.PromptEvalCount,
				OutputTokens: wire.EvalCount,
				TotalTokens:  wire.PromptEvalCount + wire.EvalCount,
			}
		} else if len(delta.Parts) == 0 {
			continue
		}

		select {
		case chunks <- agentloop.DeltaChunk(delta):
		case <-ctx.Done():
			return ctx.Err()
		}
		if wire.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !sawDone {
		return fmt.Errorf("ollama: %w: stream closed before done", agentloop.ErrInvalidStream)
	}
	return nil
}
