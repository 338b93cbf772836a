package gemini

import (
	"encoding/base64"
	"fmt"

	"agentloop"
)

// Wire types for the generativelanguage REST surface. Field names follow
// the v1beta JSON casing.

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiToolGroup `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiToolGroup struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *usageMetadata    `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
	Error         *geminiError      `json:"error"`
}

type geminiCandidate struct {
	Content           geminiContent      `json:"content"`
	FinishReason      string             `json:"finishReason"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
}

type groundingMetadata struct {
	GroundingChunks []struct {
		Web *struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"web"`
	} `json:"groundingChunks"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func buildGenerateRequest(req *agentloop.GenerationRequest) *geminiRequest {
	wire := &geminiRequest{}

	if system := req.Params.GetSystem(); system != "" {
		wire.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}

	for _, content := range req.Contents {
		// System turns inside the history fold into the instruction; the
		// wire only accepts user and model roles in contents.
		if content.Role == agentloop.RoleSystem {
			text := content.Text()
			if text == "" {
				continue
			}
			if wire.SystemInstruction == nil {
				wire.SystemInstruction = &geminiContent{}
			}
			wire.SystemInstruction.Parts = append(wire.SystemInstruction.Parts, geminiPart{Text: text})
			continue
		}
		wire.Contents = append(wire.Contents, encodeContent(content))
	}

	if req.Params != nil {
		if req.Params.Temperature != nil || req.Params.MaxTokens != nil {
			wire.GenerationConfig = &generationConfig{
				Temperature:     req.Params.Temperature,
				MaxOutputTokens: req.Params.MaxTokens,
			}
		}
		if len(req.Params.Tools) > 0 {
			group := geminiToolGroup{}
			for _, tool := range req.Params.Tools {
				group.FunctionDeclarations = append(group.FunctionDeclarations, geminiFunctionDecl{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				})
			}
			wire.Tools = []geminiToolGroup{group}
		}
	}
	return wire
}

func encodeContent(content agentloop.Content) geminiContent {
	role := "user"
	if content.Role == agentloop.RoleModel {
		role = "model"
	}
	// Tool results travel as user-role functionResponse parts.
	out := geminiContent{Role: role}
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			out.Parts = append(out.Parts, geminiPart{
				FunctionCall: &geminiFunctionCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				},
			})
		case part.FunctionResponse != nil:
			out.Parts = append(out.Parts, geminiPart{
				FunctionResponse: &geminiFunctionResponse{
					Name:     part.FunctionResponse.Name,
					Response: part.FunctionResponse.Response,
				},
			})
		case part.InlineData != nil:
			out.Parts = append(out.Parts, geminiPart{
				InlineData: &geminiBlob{
					MimeType: part.InlineData.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				},
			})
		case part.Text != "":
			out.Parts = append(out.Parts, geminiPart{Text: part.Text, Thought: part.IsThought()})
		}
	}
	return out
}

func decodeParts(content *geminiContent) []*agentloop.Part {
	var parts []*agentloop.Part
	for _, wp := range content.Parts {
		switch {
		case wp.FunctionCall != nil:
			parts = append(parts, agentloop.FunctionCallPart(&agentloop.FunctionCall{
				Name: wp.FunctionCall.Name,
				Args: wp.FunctionCall.Args,
			}))
		case wp.Thought && wp.Text != "":
			parts = append(parts, agentloop.ThoughtPart(wp.Text))
		case wp.Text != "":
			parts = append(parts, agentloop.TextPart(wp.Text))
		}
	}
	return parts
}

func decodeCitations(md *groundingMetadata) []agentloop.Citation {
	if md == nil {
		return nil
	}
	var citations []agentloop.Citation
	for _, chunk := range md.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		citations = append(citations, agentloop.Citation{
			URL:   chunk.Web.URI,
			Title: chunk.Web.Title,
		})
	}
	return citations
}

func decodeUsage(md *usageMetadata) *agentloop.Usage {
	if md == nil {
		return nil
	}
	return &agentloop.Usage{
		InputTokens:   md.PromptTokenCount,
		OutputTokens:  md.CandidatesTokenCount,
		TotalTokens:   md.TotalTokenCount,
		ThoughtTokens: md.ThoughtsTokenCount,
	}
}

func decodeGenerateResponse(wire *geminiResponse) (*agentloop.GenerationResponse, error) {
	if wire.Error != nil {
		return nil, &agentloop.ProviderError{
			Provider:   agentloop.ProviderGemini.String(),
			Kind:       agentloop.FailureTransient,
			StatusCode: wire.Error.Code,
			Message:    wire.Error.Message,
		}
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: %w: response has no candidates", agentloop.ErrInvalidStream)
	}
	cand := wire.Candidates[0]
	return &agentloop.GenerationResponse{
		Content: agentloop.Content{
			Role:  agentloop.RoleModel,
			Parts: decodeParts(&cand.Content),
		},
		Model:        wire.ModelVersion,
		FinishReason: agentloop.MapGeminiFinishReason(cand.FinishReason),
		Usage:        decodeUsage(wire.UsageMetadata),
	}, nil
}
