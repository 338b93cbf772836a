package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"agentloop"
)

const defaultMaxTokens = 4096

// buildMessageParams constructs Messages API parameters from a request.
// Shared between the one-shot and streaming paths.
func buildMessageParams(req *agentloop.GenerationRequest) (anthropic.MessageNewParams, error) {
	messages, err := buildMessages(req.Contents)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.Params.GetMaxTokens(defaultMaxTokens)),
	}

	var system []anthropic.TextBlockParam
	if s := req.Params.GetSystem(); s != "" {
		system = append(system, anthropic.TextBlockParam{Type: "text", Text: s})
	}
	for _, content := range req.Contents {
		if content.Role == agentloop.RoleSystem {
			if text := content.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Type: "text", Text: text})
			}
		}
	}
	if len(system) > 0 {
		params.System = system
	}

	if req.Params != nil {
		if req.Params.Temperature != nil {
			params.Temperature = anthropic.Float(*req.Params.Temperature)
		}
		for _, tool := range req.Params.Tools {
			params.Tools = append(params.Tools, convertTool(tool))
		}
	}
	return params, nil
}

// buildMessages converts conversation history to SDK message params.
// System turns are folded into the system prompt by the caller and skipped
// here; tool results travel as user-role tool_result blocks.
func buildMessages(contents []agentloop.Content) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(contents))

	for i, content := range contents {
		if content.Role == agentloop.RoleSystem {
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for j, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				fc := part.FunctionCall
				if fc.Name == "" {
					return nil, fmt.Errorf("message %d, part %d: function call missing name", i, j)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(fc.ID, fc.Args, fc.Name))
			case part.FunctionResponse != nil:
				fr := part.FunctionResponse
				_, isError := fr.Response["error"]
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, flattenResponse(fr.Response), isError))
			case part.IsThought():
				// Thinking blocks require signatures to replay; drop them
				// from history rather than send unverifiable ones.
				continue
			case part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch content.Role {
		case agentloop.RoleModel:
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

// convertTool maps a declaration carrying a full JSON schema onto the SDK
// input_schema shape. Type is elided and marshals as "object".
func convertTool(tool agentloop.ToolDeclaration) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties:  tool.Parameters["properties"],
		ExtraFields: make(map[string]any),
	}
	if required, ok := tool.Parameters["required"].([]any); ok {
		for _, v := range required {
			if name, ok := v.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	for key, value := range tool.Parameters {
		if key != "type" && key != "properties" && key != "required" {
			schema.ExtraFields[key] = value
		}
	}

	param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
	if tool.Description != "" {
		param.OfTool.Description = anthropic.String(tool.Description)
	}
	return param
}

func flattenResponse(response map[string]any) string {
	if response == nil {
		return ""
	}
	if output, ok := response["output"].(string); ok {
		return output
	}
	if errText, ok := response["error"].(string); ok {
		return errText
	}
	return fmt.Sprintf("%v", response)
}

// decodeMessage converts an SDK message to the shared response shape.
func decodeMessage(msg *anthropic.Message) *agentloop.GenerationResponse {
	var parts []*agentloop.Part
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			parts = append(parts, agentloop.TextPart(block.Text))
		case "thinking":
			parts = append(parts, agentloop.ThoughtPart(block.Thinking))
		case "tool_use":
			args := make(map[string]any)
			if len(block.Input) > 0 {
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
	}

	return &agentloop.GenerationResponse{
		Content:      agentloop.Content{Role: agentloop.RoleModel, Parts: parts},
		Model:        string(msg.Model),
		FinishReason: agentloop.MapAnthropicStopReason(string(msg.StopReason)),
		Usage: &agentloop.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}
