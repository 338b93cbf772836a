package agentloop

import "time"

// FinishReason is the normalized set of generation termination causes.
// Every backend's finish-reason vocabulary folds into these values;
// unknown strings map to FinishOther, never to an error.
type FinishReason int

const (
	FinishUnspecified FinishReason = iota
	FinishStop
	FinishMaxTokens
	FinishSafety
	FinishOther
)

// String returns the canonical name of the finish reason.
func (f FinishReason) String() string {
	switch f {
	case FinishStop:
		return "stop"
	case FinishMaxTokens:
		return "max_tokens"
	case FinishSafety:
		return "safety"
	case FinishOther:
		return "other"
	default:
		return "unspecified"
	}
}

// Usage carries token accounting reported by the backend.
type Usage struct {
	InputTokens   int `json:"input_tokens"`
	OutputTokens  int `json:"output_tokens"`
	TotalTokens   int `json:"total_tokens"`
	ThoughtTokens int `json:"thought_tokens,omitempty"`
}

// ContentDelta is one incremental content update within a stream. The final
// delta of a call (or the only delta, for non-streaming adapters) carries a
// finish reason.
type ContentDelta struct {
	// Role of the emitting party; RoleModel for generated content.
	Role Role

	// Model is the model that actually produced this delta. Set when it is
	// known to differ from the requested model (fallback substitution,
	// backend aliasing).
	Model string

	// Parts are the partial parts delivered by this delta, in order.
	Parts []*Part

	// Citations observed alongside this delta, if any.
	Citations []Citation

	// FinishReason is FinishUnspecified on all but the final delta.
	FinishReason FinishReason

	// Usage is reported with the final delta when the backend provides it.
	Usage *Usage
}

// RetryInfo is an adapter-level control signal: the backend asked the caller
// to wait and retry (quota replenishment, overload). The turn engine passes
// it through untouched; it never sleeps or retries itself.
type RetryInfo struct {
	Attempt int
	Delay   time.Duration
	Reason  string
}

// UnavailableInfo is a control signal that the target model stopped being
// servable mid-call.
type UnavailableInfo struct {
	Provider string
	Model    string
	Status   int
	Message  string
}

// GenerationChunk is the adapter output unit: exactly one of Delta, Retry,
// Unavailable or Err is set. Chunks of one call are strictly ordered and
// delivered on a channel that is closed when the call completes.
type GenerationChunk struct {
	Delta       *ContentDelta
	Retry       *RetryInfo
	Unavailable *UnavailableInfo
	Err         error
}

// DeltaChunk wraps a content delta in a chunk.
func DeltaChunk(d *ContentDelta) GenerationChunk {
	return GenerationChunk{Delta: d}
}

// ErrChunk wraps a stream-level error in a chunk.
func ErrChunk(err error) GenerationChunk {
	return GenerationChunk{Err: err}
}

// MapOpenAIFinishReason folds OpenAI-family finish-reason strings
// (stop|length|content_filter|tool_calls) into the internal enum.
func MapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "":
		return FinishUnspecified
	case "stop", "tool_calls", "function_call":
		return FinishStop
	case "length":
		return FinishMaxTokens
	case "content_filter":
		return FinishSafety
	default:
		return FinishOther
	}
}

// MapGeminiFinishReason folds the cloud-native enumerated finishReason
// strings into the internal enum.
func MapGeminiFinishReason(reason string) FinishReason {
	switch reason {
	case "":
		return FinishUnspecified
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishMaxTokens
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "SPII", "BLOCKLIST":
		return FinishSafety
	default:
		return FinishOther
	}
}

// MapAnthropicStopReason folds Anthropic stop_reason strings into the
// internal enum.
func MapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case "":
		return FinishUnspecified
	case "end_turn", "tool_use", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishMaxTokens
	case "refusal":
		return FinishSafety
	default:
		return FinishOther
	}
}
