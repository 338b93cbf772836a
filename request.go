package agentloop

import "fmt"

// GenerationRequest contains everything for one adapter call. It is built
// per turn and treated as immutable once handed to an adapter.
type GenerationRequest struct {
	// Model is the target model identifier (e.g. "gemini-2.5-flash").
	Model string

	// Contents is the ordered conversation history.
	Contents []Content

	// Params contains generation options. Nil means backend defaults.
	Params *RequestParams

	// PromptID is a caller-supplied id stamped on every tool-call request
	// emitted for this turn.
	PromptID string
}

// RequestParams holds generation options. All scalar fields are optional
// pointers so "not set" is distinguishable from a zero value; adapters
// extract what their backend supports.
type RequestParams struct {
	// Temperature controls randomness (0.0-2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens caps the number of generated tokens.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// System is the system instruction. Chat-style backends fold it into a
	// leading system message; the cloud-native backend sends it separately.
	System *string `json:"system,omitempty"`

	// Tools are the function declarations offered to the model.
	Tools []ToolDeclaration `json:"tools,omitempty"`
}

// ToolDeclaration describes one callable function offered to the model.
type ToolDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is a JSON schema object for the function arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// GetTemperature returns the temperature or the given default.
func (p *RequestParams) GetTemperature(def float64) float64 {
	if p == nil || p.Temperature == nil {
		return def
	}
	return *p.Temperature
}

// GetMaxTokens returns the max token cap or the given default.
func (p *RequestParams) GetMaxTokens(def int) int {
	if p == nil || p.MaxTokens == nil {
		return def
	}
	return *p.MaxTokens
}

// GetSystem returns the system instruction or "".
func (p *RequestParams) GetSystem() string {
	if p == nil || p.System == nil {
		return ""
	}
	return *p.System
}

// Validate checks a request before any network I/O is attempted.
func (r *GenerationRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Field: "model", Reason: "model identifier is required", Err: ErrInvalidRequest}
	}
	if len(r.Contents) == 0 {
		return &ValidationError{Field: "contents", Reason: "at least one content is required", Err: ErrInvalidRequest}
	}
	if r.Params != nil {
		if t := r.Params.Temperature; t != nil && (*t < 0 || *t > 2) {
			return &ValidationError{
				Field:  "temperature",
				Value:  *t,
				Reason: "must be between 0.0 and 2.0",
				Err:    ErrInvalidRequest,
			}
		}
		if m := r.Params.MaxTokens; m != nil && *m <= 0 {
			return &ValidationError{
				Field:  "max_tokens",
				Value:  *m,
				Reason: "must be positive",
				Err:    ErrInvalidRequest,
			}
		}
		for i, tool := range r.Params.Tools {
			if tool.Name == "" {
				return &ValidationError{
					Field:  fmt.Sprintf("tools[%d].name", i),
					Reason: "tool name is required",
					Err:    ErrInvalidRequest,
				}
			}
		}
	}
	return nil
}
