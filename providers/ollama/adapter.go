package ollama

import (
	"fmt"

	json "github.com/goccy/go-json"

	"agentloop"
)

// chatRequest is the /api/chat payload. Tool-call arguments are JSON
// objects on this wire, not encoded strings.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []wireTool     `json:"tools,omitempty"`
	Options  *requestOption `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
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
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type requestOption struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// chatResponse is both the one-shot body and one NDJSON stream line. The
// final line of a stream carries done=true plus reason and token counts.
type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func buildChatRequest(req *agentloop.GenerationRequest) *chatRequest {
	wire := &chatRequest{Model: req.Model}

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
				body, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					body = []byte(fmt.Sprintf("%v", part.FunctionResponse.Response))
				}
				wire.Messages = append(wire.Messages, chatMessage{Role: "tool", Content: string(body)})
			}
		case agentloop.RoleModel:
			msg := chatMessage{Role: "assistant", Content: content.Text()}
			for _, fc := range content.FunctionCalls() {
				msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
					Function: wireToolCallFunc{Name: fc.Name, Arguments: fc.Args},
				})
			}
			wire.Messages = append(wire.Messages, msg)
		default:
			wire.Messages = append(wire.Messages, chatMessage{Role: "user", Content: content.Text()})
		}
	}

	if req.Params != nil {
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
		if req.Params.Temperature != nil || req.Params.MaxTokens != nil {
			wire.Options = &requestOption{
				Temperature: req.Params.Temperature,
				NumPredict:  req.Params.MaxTokens,
			}
		}
	}
	return wire
}

func decodeChatResponse(wire *chatResponse) (*agentloop.GenerationResponse, error) {
	if wire.Error != "" {
		return nil, &agentloop.ProviderError{
			Provider: agentloop.ProviderOllama.String(),
			Kind:     agentloop.FailureTransient,
			Message:  wire.Error,
		}
	}

	parts := decodeMessageParts(&wire.Message)
	return &agentloop.GenerationResponse{
		Content:      agentloop.Content{Role: agentloop.RoleModel, Parts: parts},
		Model:        wire.Model,
		FinishReason: mapDoneReason(wire.DoneReason),
		Usage: &agentloop.Usage{
			InputTokens:  wire.PromptEvalCount,
			OutputTokens: wire.EvalCount,
			TotalTokens:  wire.PromptEvalCount + wire.EvalCount,
		},
	}, nil
}

func decodeMessageParts(msg *chatMessage) []*agentloop.Part {
	var parts []*agentloop.Part
	if msg.Content != "" {
		parts = append(parts, agentloop.TextPart(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, agentloop.FunctionCallPart(&agentloop.FunctionCall{
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		}))
	}
	return parts
}

func mapDoneReason(reason string) agentloop.FinishReason {
	switch reason {
	case "":
		return agentloop.FinishUnspecified
	case "stop":
		return agentloop.FinishStop
	case "length":
		return agentloop.FinishMaxTokens
	default:
		return agentloop.FinishOther
	}
}
