package agentloop

import "strings"

// Role identifies who produced a Content.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// Part type constants
const (
	PartTypeText             = "text"
	PartTypeThought          = "thought"
	PartTypeFunctionCall     = "function_call"
	PartTypeFunctionResponse = "function_response"
	PartTypeInlineData       = "inline_data"
)

// FunctionCall is a model-requested invocation of a declared function.
// ID is assigned by the turn engine when the backend omits one.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the output of an executed function back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// InlineData is raw binary content (images, audio) embedded in a message.
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Citation is a reference from generated text to an external source.
//
// Backend mappings:
//   - gemini: groundingMetadata.groundingChunks
//   - openai-compatible: message annotations (url_citation)
type Citation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
}

// Part is one unit of message content. Type discriminates which payload
// field is set; exactly one payload field is non-zero per part.
//
// Thought parts carry model reasoning text that is never shown as regular
// output and never included in ResponseText projections.
type Part struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	InlineData       *InlineData       `json:"inline_data,omitempty"`
}

// TextPart builds a visible text part.
func TextPart(text string) *Part {
	return &Part{Type: PartTypeText, Text: text}
}

// ThoughtPart builds a hidden reasoning part.
func ThoughtPart(text string) *Part {
	return &Part{Type: PartTypeThought, Text: text}
}

// FunctionCallPart wraps a function call in a part.
func FunctionCallPart(fc *FunctionCall) *Part {
	return &Part{Type: PartTypeFunctionCall, FunctionCall: fc}
}

// FunctionResponsePart wraps a function response in a part.
func FunctionResponsePart(fr *FunctionResponse) *Part {
	return &Part{Type: PartTypeFunctionResponse, FunctionResponse: fr}
}

// IsText returns true for a visible text part.
func (p *Part) IsText() bool {
	return p.Type == PartTypeText
}

// IsThought returns true for a hidden reasoning part.
func (p *Part) IsThought() bool {
	return p.Type == PartTypeThought
}

// Content is one message in a conversation: a role plus an ordered list of parts.
type Content struct {
	Role  Role    `json:"role"`
	Parts []*Part `json:"parts"`
}

// NewTextContent builds a single-part text message.
func NewTextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []*Part{TextPart(text)}}
}

// Text flattens all visible text parts, newline-joined. Thought parts and
// non-text parts are skipped.
func (c Content) Text() string {
	var fragments []string
	for _, p := range c.Parts {
		if p.IsText() && p.Text != "" {
			fragments = append(fragments, p.Text)
		}
	}
	return strings.Join(fragments, "\n")
}

// FunctionCalls returns the function-call parts of this content in order.
func (c Content) FunctionCalls() []*FunctionCall {
	var calls []*FunctionCall
	for _, p := range c.Parts {
		if p.Type == PartTypeFunctionCall && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FlattenContents renders a conversation as plain prompt text, one line per
// message prefixed by its role. Used by single-string backends and the
// offline fallback path.
func FlattenContents(contents []Content) string {
	var sb strings.Builder
	for _, c := range contents {
		text := c.Text()
		if text == "" {
			continue
		}
		switch c.Role {
		case RoleSystem:
			sb.WriteString("System: ")
		case RoleModel:
			sb.WriteString("Assistant: ")
		case RoleTool:
			sb.WriteString("Tool: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
