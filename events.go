package agentloop

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolCallRequestInfo records a model-requested tool invocation. The turn
// engine emits it and never mutates it afterward; the external scheduler
// owns it until a response is appended to history.
type ToolCallRequestInfo struct {
	CallID            string         `json:"call_id"`
	Name              string         `json:"name"`
	Args              map[string]any `json:"args,omitempty"`
	PromptID          string         `json:"prompt_id,omitempty"`
	IsClientInitiated bool           `json:"is_client_initiated,omitempty"`
}

// ToolCallResponseInfo is the scheduler's eventual answer to a request; it
// is appended to the next turn's history as a function-response part.
type ToolCallResponseInfo struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Output map[string]any `json:"output,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// NewCallID synthesizes a call id for backends that omit one:
// name, millisecond timestamp, and a random suffix.
func NewCallID(name string) string {
	return fmt.Sprintf("%s-%d-%s", name, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// TurnEvent is the closed union of events a turn can emit. Exactly one
// terminal event (Finished, Error or UserCancelled) ends a turn.
type TurnEvent interface {
	turnEvent()
}

// ContentEvent carries a fragment of visible model text.
type ContentEvent struct {
	Text string
}

func (ContentEvent) turnEvent() {}

// ThoughtEvent carries a fragment of hidden reasoning text.
type ThoughtEvent struct {
	Text string
}

func (ThoughtEvent) turnEvent() {}

// ToolCallRequestEvent asks the external scheduler to run a tool.
type ToolCallRequestEvent struct {
	Request ToolCallRequestInfo
}

func (ToolCallRequestEvent) turnEvent() {}

// CitationEvent flushes the turn's accumulated citation set, emitted at most
// once per turn, just before Finished.
type CitationEvent struct {
	Citations []Citation
}

func (CitationEvent) turnEvent() {}

// RetryEvent passes an adapter retry signal through so the caller can show
// progress; the turn engine itself never sleeps.
type RetryEvent struct {
	Info RetryInfo
}

func (RetryEvent) turnEvent() {}

// ChatCompressedEvent reports that upstream history compression ran before
// this turn. Produced by the conversation layer, not by adapters.
type ChatCompressedEvent struct {
	OriginalTokens int
	NewTokens      int
}

func (ChatCompressedEvent) turnEvent() {}

// ModelInfoEvent reports the model actually serving the turn when it
// differs from the requested one (fallback substitution or aliasing).
type ModelInfoEvent struct {
	Model string
}

func (ModelInfoEvent) turnEvent() {}

// FinishedEvent terminates a successful turn.
type FinishedEvent struct {
	Reason FinishReason
	Usage  *Usage
}

func (FinishedEvent) turnEvent() {}

// ErrorEvent terminates a failed turn with the normalized {message, status}
// shape; callers never see backend-specific error fields.
type ErrorEvent struct {
	Message string
	Status  int
}

func (ErrorEvent) turnEvent() {}

// UserCancelledEvent terminates a turn after caller cancellation. It is a
// normal terminal state, not an error.
type UserCancelledEvent struct{}

func (UserCancelledEvent) turnEvent() {}

// InvalidStreamEvent terminates a turn whose stream violated the backend's
// framing protocol, distinct from ErrorEvent so the caller can decide
// whether to resend.
type InvalidStreamEvent struct {
	Message string
}

func (InvalidStreamEvent) turnEvent() {}

// ExecutionStoppedEvent reports that an agent run was stopped by an outer
// policy layer.
type ExecutionStoppedEvent struct {
	Reason string
}

func (ExecutionStoppedEvent) turnEvent() {}

// ExecutionBlockedEvent reports that an agent run was blocked before it
// could start.
type ExecutionBlockedEvent struct {
	Reason string
}

func (ExecutionBlockedEvent) turnEvent() {}
