package gemini

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

// GenerateContentStream performs a streaming generation against the
// alt=sse endpoint. Each data: frame is a full response object carrying
// incremental candidate parts; the frame with a finishReason ends the turn.
func (p *Provider) GenerateContentStream(ctx context.Context, req *agentloop.GenerationRequest) (<-chan agentloop.GenerationChunk, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, req.Model, p.apiKey)
	resp, err := p.post(ctx, url, buildGenerateRequest(req))
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

	finished := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var wire geminiResponse
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			p.logger.Debug("skipping unparsable stream line", "line", data)
			continue
		}
		if wire.Error != nil {
			return &agentloop.ProviderError{
				Provider:   p.Name().String(),
				Kind:       agentloop.FailureTransient,
				StatusCode: wire.Error.Code,
				Message:    wire.Error.Message,
			}
		}
		if len(wire.Candidates) == 0 {
			continue
		}
		cand := wire.Candidates[0]

		delta := &agentloop.ContentDelta{
			Role:      agentloop.RoleModel,
			Parts:     decodeParts(&cand.Content),
			Citations: decodeCitations(cand.GroundingMetadata),
		}
		if cand.FinishReason != "" {
			finished = true
			delta.Model = wire.ModelVersion
			delta.FinishReason = agentloop.MapGeminiFinishReason(cand.FinishReason)
			delta.Usage = decodeUsage(wire.UsageMetadata)
		} else if len(delta.Parts) == 0 && len(delta.Citations) == 0 {
			continue
		}

		select {
		case chunks <- agentloop.DeltaChunk(delta):
		case <-ctx.Done():
			return ctx.Err()
		}
		if finished {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !finished {
		return fmt.Errorf("gemini: %w: stream closed before finish reason", agentloop.ErrInvalidStream)
	}
	return nil
}
