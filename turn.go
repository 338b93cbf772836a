package agentloop

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// TurnState tracks where a turn is in its lifecycle.
type TurnState int

const (
	TurnStreaming TurnState = iota
	TurnToolCallsPending
	TurnFinished
	TurnCancelled
	TurnErrored
)

// String returns the canonical name of the turn state.
func (s TurnState) String() string {
	switch s {
	case TurnToolCallsPending:
		return "tool_calls_pending"
	case TurnFinished:
		return "finished"
	case TurnCancelled:
		return "cancelled"
	case TurnErrored:
		return "errored"
	default:
		return "streaming"
	}
}

// Turn owns one conversational exchange: it drives a generator stream,
// extracts structured sub-events from each chunk, and yields them as a
// typed event sequence. It is a sequential consumer; chunk ordering is a
// correctness invariant and is never parallelized.
type Turn struct {
	gen      ContentGenerator
	promptID string
	logger   *slog.Logger

	mu       sync.Mutex
	state    TurnState
	pending  []ToolCallRequestInfo
	debugLog []*ContentDelta
	finish   FinishReason
}

// NewTurn builds a turn over the given generator. The generator may be a
// bare adapter or a fallback resolver; the turn does not care which.
func NewTurn(gen ContentGenerator, promptID string) *Turn {
	return &Turn{
		gen:      gen,
		promptID: promptID,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the turn's logger. Returns the turn for chaining.
func (t *Turn) WithLogger(logger *slog.Logger) *Turn {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// State returns the turn's current lifecycle state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PendingToolCalls returns a snapshot of the tool calls requested so far and
// not yet handed off.
func (t *Turn) PendingToolCalls() []ToolCallRequestInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolCallRequestInfo, len(t.pending))
	copy(out, t.pending)
	return out
}

// FinishReason returns the recorded finish reason, FinishUnspecified until
// the turn finishes.
func (t *Turn) FinishReason() FinishReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finish
}

// ResponseText concatenates all visible-text fragments of the turn in
// arrival order, joined with single spaces. It is a pure projection of the
// debug log and is idempotent across calls.
func (t *Turn) ResponseText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var fragments []string
	for _, delta := range t.debugLog {
		for _, p := range delta.Parts {
			if p.IsText() && p.Text != "" {
				fragments = append(fragments, p.Text)
			}
		}
	}
	return strings.Join(fragments, " ")
}

// DebugResponses returns the raw content deltas observed this turn.
func (t *Turn) DebugResponses() []*ContentDelta {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ContentDelta, len(t.debugLog))
	copy(out, t.debugLog)
	return out
}

// Run executes the turn and returns a lazily produced event channel. Events
// are emitted as chunks arrive; the channel closes after the single terminal
// event. The stream is not restartable once consumed.
func (t *Turn) Run(ctx context.Context, req *GenerationRequest) <-chan TurnEvent {
	events := make(chan TurnEvent)
	go func() {
		defer close(events)
		t.run(ctx, req, events)
	}()
	return events
}

func (t *Turn) run(ctx context.Context, req *GenerationRequest, events chan<- TurnEvent) {
	if err := req.Validate(); err != nil {
		t.setState(TurnErrored)
		events <- ErrorEvent{Message: err.Error()}
		return
	}

	stream, err := t.gen.GenerateContentStream(ctx, req)
	if err != nil {
		t.emitTerminalError(ctx, err, events)
		return
	}

	// Citations accumulate per turn, de-duplicated by URL, and flush as a
	// single event when the finish reason arrives.
	seenCitations := make(map[string]struct{})
	var citations []Citation
	modelAnnounced := false

	for {
		// Cancellation is checked before consuming the next chunk so no
		// content event can slip out after the abort signal fires.
		if ctx.Err() != nil {
			t.setState(TurnCancelled)
			events <- UserCancelledEvent{}
			return
		}

		select {
		case <-ctx.Done():
			// Abandon the remaining stream; the producer observes the same
			// context and stops reading the network.
			t.setState(TurnCancelled)
			events <- UserCancelledEvent{}
			return
		case chunk, ok := <-stream:
			if !ok {
				// Stream closed without a terminal signal. The framing
				// contract requires a finish reason on the last delta.
				t.setState(TurnErrored)
				events <- InvalidStreamEvent{Message: "stream ended without finish reason"}
				return
			}

			switch {
			case chunk.Err != nil:
				t.emitTerminalError(ctx, chunk.Err, events)
				return

			case chunk.Retry != nil:
				events <- RetryEvent{Info: *chunk.Retry}

			case chunk.Unavailable != nil:
				t.setState(TurnErrored)
				events <- ErrorEvent{
					Message: chunk.Unavailable.Message,
					Status:  chunk.Unavailable.Status,
				}
				return

			case chunk.Delta != nil:
				delta := chunk.Delta
				t.recordDelta(delta)

				if delta.Model != "" && delta.Model != req.Model && !modelAnnounced {
					modelAnnounced = true
					events <- ModelInfoEvent{Model: delta.Model}
				}

				for _, part := range delta.Parts {
					switch {
					case part.IsThought():
						if part.Text != "" {
							events <- ThoughtEvent{Text: part.Text}
						}
					case part.IsText():
						if part.Text != "" {
							events <- ContentEvent{Text: part.Text}
						}
					case part.Type == PartTypeFunctionCall && part.FunctionCall != nil:
						info := t.recordToolCall(part.FunctionCall, req.PromptID)
						events <- ToolCallRequestEvent{Request: info}
					}
				}

				for _, c := range delta.Citations {
					if _, seen := seenCitations[c.URL]; seen {
						continue
					}
					seenCitations[c.URL] = struct{}{}
					citations = append(citations, c)
				}

				if delta.FinishReason != FinishUnspecified {
					if len(citations) > 0 {
						events <- CitationEvent{Citations: citations}
					}
					t.setFinish(delta.FinishReason)
					events <- FinishedEvent{Reason: delta.FinishReason, Usage: delta.Usage}
					return
				}
			}
		}
	}
}

// emitTerminalError maps an error to the right terminal event. Cancellation
// wins over whatever error the producer surfaced while shutting down.
func (t *Turn) emitTerminalError(ctx context.Context, err error, events chan<- TurnEvent) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		t.setState(TurnCancelled)
		events <- UserCancelledEvent{}
		return
	}
	if IsInvalidStream(err) {
		t.setState(TurnErrored)
		events <- InvalidStreamEvent{Message: err.Error()}
		return
	}
	t.setState(TurnErrored)
	t.logger.Warn("turn failed", "provider", t.gen.Name(), "error", err)
	events <- ErrorEvent{Message: err.Error(), Status: StatusOf(err)}
}

func (t *Turn) recordDelta(delta *ContentDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debugLog = append(t.debugLog, delta)
}

// recordToolCall assigns a call id when the backend omitted one, records the
// call as pending, and returns the immutable request record.
func (t *Turn) recordToolCall(fc *FunctionCall, promptID string) ToolCallRequestInfo {
	callID := fc.ID
	if callID == "" {
		callID = NewCallID(fc.Name)
		fc.ID = callID
	}
	info := ToolCallRequestInfo{
		CallID:   callID,
		Name:     fc.Name,
		Args:     fc.Args,
		PromptID: promptID,
	}
	t.mu.Lock()
	t.pending = append(t.pending, info)
	t.state = TurnToolCallsPending
	t.mu.Unlock()
	return info
}

func (t *Turn) setState(s TurnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Turn) setFinish(reason FinishReason) {
	t.mu.Lock()
	t.finish = reason
	t.state = TurnFinished
	t.mu.Unlock()
}
