package openaicompat

import (
	"fmt"

	json "github.com/goccy/go-json"

	"agentloop"
)

// chatCompletionRequest is the wire request for /chat/completions.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// buildChatCompletionRequest maps the generic request onto the OpenAI
// message schema: the system instruction becomes a leading system message,
// multi-part text flattens with newlines, function responses become tool
// messages.
func buildChatCompletionRequest(req *agentloop.GenerationRequest) *chatCompletionRequest {
	wire := &chatCompletionRequest{Model: req.Model}

	if system := req.Params.GetSystem(); system != "" {
		wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: system})
	}

	for _, content := range req.Contents {
		switch content.Role {
		case agentloop.RoleSystem:
			wire.Messages = append(wire.Messages, chatMessage{Role: "system", Content: content.Text()})
		case agentloop.RoleTool:
			for _, part := range content.Parts {
				if part.FunctionResponse == nil {
					continue
				}
				output, _ := json.Marshal(part.FunctionResponse.Response)
				wire.Messages = append(wire.Messages, chatMessage{
					Role:       "tool",
					Content:    string(output),
					ToolCallID: part.FunctionResponse.ID,
				})
			}
		case agentloop.RoleModel:
			msg := chatMessage{Role: "assistant", Content: content.Text()}
			for _, fc := range content.FunctionCalls() {
				args, _ := json.Marshal(fc.Args)
				msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
					ID:   fc.ID,
					Type: "function",
					Function: wireToolCallFunc{
						Name:      fc.Name,
						Arguments: string(args),
					},
				})
			}
			wire.Messages = append(wire.Messages, msg)
		default:
			wire.Messages = append(wire.Messages, chatMessage{Role: "user", Content: content.Text()})
		}
	}

	if req.Params != nil {
		wire.MaxTokens = req.Params.MaxTokens
		wire.Temperature = req.Params.Temperature
		for _, tool := range req.Params.Tools {
			wire.Tools = append(wire.Tools, wireTool{
				Type: "function",
				Function: wireFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}
	}
	return wire
}

// decodeChatCompletionResponse converts a one-shot wire response back into
// the generic shape.
func decodeChatCompletionResponse(resp *chatCompletionResponse) (*agentloop.GenerationResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai-compat: %w: response has no choices", agentloop.ErrInvalidStream)
	}
	choice := resp.Choices[0]

	var parts []*agentloop.Part
	if choice.Message.Content != "" {
		parts = append(parts, agentloop.TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		fc, err := decodeToolCall(tc)
		if err != nil {
			return nil, err
		}
		parts = append(parts, agentloop.FunctionCallPart(fc))
	}

	out := &agentloop.GenerationResponse{
		Content:      agentloop.Content{Role: agentloop.RoleModel, Parts: parts},
		Model:        resp.Model,
		FinishReason: agentloop.MapOpenAIFinishReason(choice.FinishReason),
	}
	if resp.Usage != nil {
		out.Usage = &agentloop.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func decodeToolCall(tc wireToolCall) (*agentloop.FunctionCall, error) {
	args := make(map[string]any)
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("openai-compat: malformed tool arguments %q: %w", tc.Function.Arguments, err)
		}
	}
	return &agentloop.FunctionCall{
		ID:   tc.ID,
		Name: tc.Function.Name,
		Args: args,
	}, nil
}
