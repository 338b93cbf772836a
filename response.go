package agentloop

// GenerationResponse is the result of a one-shot (non-streaming) adapter call.
type GenerationResponse struct {
	// Content is the generated message.
	Content Content

	// Model is the model that produced the response (may differ from the
	// request if the backend aliased it or a fallback substituted it).
	Model string

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason

	// Usage carries token accounting when the backend reports it.
	Usage *Usage
}

// Text flattens the visible text of the response.
func (r *GenerationResponse) Text() string {
	return r.Content.Text()
}
