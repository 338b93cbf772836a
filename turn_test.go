package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// scriptedGenerator replays a fixed chunk sequence as its stream.
type scriptedGenerator struct {
	chunks    []GenerationChunk
	streamErr error
	hang      bool // emit chunks, then block instead of closing
}

func (g *scriptedGenerator) Name() ProviderID          { return ProviderOffline }
func (g *scriptedGenerator) SupportsModel(string) bool { return true }

func (g *scriptedGenerator) GenerateContent(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	return nil, errors.New("not scripted")
}

func (g *scriptedGenerator) GenerateContentStream(ctx context.Context, req *GenerationRequest) (<-chan GenerationChunk, error) {
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	out := make(chan GenerationChunk, len(g.chunks))
	for _, c := range g.chunks {
		out <- c
	}
	if !g.hang {
		close(out)
	}
	return out, nil
}

func (g *scriptedGenerator) CountTokens(ctx context.Context, req *GenerationRequest) (int, error) {
	return 0, nil
}

func (g *scriptedGenerator) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func textChunk(text string) GenerationChunk {
	return DeltaChunk(&ContentDelta{
		Role:  RoleModel,
		Parts: []*Part{TextPart(text)},
	})
}

func finishChunk(reason FinishReason, usage *Usage) GenerationChunk {
	return DeltaChunk(&ContentDelta{
		Role:         RoleModel,
		FinishReason: reason,
		Usage:        usage,
	})
}

func validRequest() *GenerationRequest {
	return &GenerationRequest{
		Model:    "gemini-2.5-flash",
		Contents: []Content{NewTextContent(RoleUser, "hello")},
		PromptID: "prompt-1",
	}
}

func collectEvents(t *testing.T, events <-chan TurnEvent) []TurnEvent {
	t.Helper()
	var out []TurnEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out collecting events, got %d so far", len(out))
		}
	}
}

func isTerminal(ev TurnEvent) bool {
	switch ev.(type) {
	case FinishedEvent, ErrorEvent, UserCancelledEvent, InvalidStreamEvent:
		return true
	default:
		return false
	}
}

func assertSingleTerminal(t *testing.T, events []TurnEvent) TurnEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	count := 0
	for _, ev := range events {
		if isTerminal(ev) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one terminal event, got %d in %#v", count, events)
	}
	last := events[len(events)-1]
	if !isTerminal(last) {
		t.Fatalf("terminal event is not last, got %T", last)
	}
	return last
}

func TestTurn_TextFragments(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			textChunk("hel"),
			textChunk("lo"),
			finishChunk(FinishStop, &Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	terminal := assertSingleTerminal(t, events)
	finished, ok := terminal.(FinishedEvent)
	if !ok {
		t.Fatalf("expected FinishedEvent, got %T", terminal)
	}
	if finished.Reason != FinishStop {
		t.Errorf("finish reason = %v, want %v", finished.Reason, FinishStop)
	}
	if finished.Usage == nil || finished.Usage.TotalTokens != 5 {
		t.Errorf("usage not propagated: %+v", finished.Usage)
	}

	var texts []string
	for _, ev := range events {
		if c, ok := ev.(ContentEvent); ok {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) != 2 || texts[0] != "hel" || texts[1] != "lo" {
		t.Errorf("content events = %v, want [hel lo]", texts)
	}

	if got := turn.ResponseText(); got != "hel lo" {
		t.Errorf("ResponseText() = %q, want %q", got, "hel lo")
	}
	if turn.State() != TurnFinished {
		t.Errorf("state = %v, want finished", turn.State())
	}
	if turn.FinishReason() != FinishStop {
		t.Errorf("FinishReason() = %v", turn.FinishReason())
	}
}

func TestTurn_ThoughtAndContentOrdering(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			DeltaChunk(&ContentDelta{
				Role:  RoleModel,
				Parts: []*Part{ThoughtPart("planning"), TextPart("answer")},
			}),
			finishChunk(FinishStop, nil),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %#v", len(events), events)
	}
	if th, ok := events[0].(ThoughtEvent); !ok || th.Text != "planning" {
		t.Errorf("events[0] = %#v, want ThoughtEvent(planning)", events[0])
	}
	if c, ok := events[1].(ContentEvent); !ok || c.Text != "answer" {
		t.Errorf("events[1] = %#v, want ContentEvent(answer)", events[1])
	}
	if got := turn.ResponseText(); got != "answer" {
		t.Errorf("ResponseText() = %q, thought text must be excluded", got)
	}
}

func TestTurn_ToolCallIDAssignment(t *testing.T) {
	calls := []*FunctionCall{
		{Name: "read_file", Args: map[string]any{"path": "a.txt"}},
		{Name: "read_file", Args: map[string]any{"path": "b.txt"}},
	}
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			DeltaChunk(&ContentDelta{
				Role:  RoleModel,
				Parts: []*Part{FunctionCallPart(calls[0]), FunctionCallPart(calls[1])},
			}),
			finishChunk(FinishStop, nil),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	seen := make(map[string]bool)
	for _, ev := range events {
		req, ok := ev.(ToolCallRequestEvent)
		if !ok {
			continue
		}
		id := req.Request.CallID
		if id == "" {
			t.Error("tool call emitted without a call id")
		}
		if !strings.HasPrefix(id, "read_file-") {
			t.Errorf("call id %q does not carry the tool name prefix", id)
		}
		if seen[id] {
			t.Errorf("call id %q reused within one turn", id)
		}
		seen[id] = true
		if req.Request.PromptID != "prompt-1" {
			t.Errorf("prompt id = %q, want prompt-1", req.Request.PromptID)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 tool call events, got %d", len(seen))
	}

	pending := turn.PendingToolCalls()
	if len(pending) != 2 {
		t.Fatalf("PendingToolCalls() = %d entries, want 2", len(pending))
	}
	for _, fc := range calls {
		if fc.ID == "" {
			t.Error("call id was not written back onto the function call")
		}
	}
}

func TestTurn_CallIDsUniqueAcrossTurns(t *testing.T) {
	run := func() string {
		fc := &FunctionCall{Name: "search", Args: map[string]any{}}
		gen := &scriptedGenerator{
			chunks: []GenerationChunk{
				DeltaChunk(&ContentDelta{Role: RoleModel, Parts: []*Part{FunctionCallPart(fc)}}),
				finishChunk(FinishStop, nil),
			},
		}
		turn := NewTurn(gen, "p")
		collectEvents(t, turn.Run(context.Background(), validRequest()))
		return fc.ID
	}
	if a, b := run(), run(); a == b {
		t.Errorf("call ids collided across turns: %q", a)
	}
}

func TestTurn_CancelBeforeConsumption(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{textChunk("queued"), textChunk("chunks")},
		hang:   true,
	}
	turn := NewTurn(gen, "prompt-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collectEvents(t, turn.Run(ctx, validRequest()))

	if len(events) != 1 {
		t.Fatalf("expected only the cancellation event, got %#v", events)
	}
	if _, ok := events[0].(UserCancelledEvent); !ok {
		t.Fatalf("expected UserCancelledEvent, got %T", events[0])
	}
	if turn.State() != TurnCancelled {
		t.Errorf("state = %v, want cancelled", turn.State())
	}
}

func TestTurn_CancelMidStream(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{textChunk("first")},
		hang:   true,
	}
	turn := NewTurn(gen, "prompt-1")

	ctx, cancel := context.WithCancel(context.Background())
	events := turn.Run(ctx, validRequest())

	first := <-events
	if c, ok := first.(ContentEvent); !ok || c.Text != "first" {
		t.Fatalf("expected ContentEvent(first), got %#v", first)
	}
	cancel()

	rest := collectEvents(t, events)
	if len(rest) != 1 {
		t.Fatalf("expected only the cancellation event after abort, got %#v", rest)
	}
	if _, ok := rest[0].(UserCancelledEvent); !ok {
		t.Fatalf("expected UserCancelledEvent, got %T", rest[0])
	}
}

func TestTurn_RetryPassthrough(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			{Retry: &RetryInfo{Attempt: 1, Delay: time.Second, Reason: "429"}},
			textChunk("ok"),
			finishChunk(FinishStop, nil),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	retry, ok := events[0].(RetryEvent)
	if !ok {
		t.Fatalf("expected RetryEvent first, got %T", events[0])
	}
	if retry.Info.Attempt != 1 || retry.Info.Reason != "429" {
		t.Errorf("retry info not passed through: %+v", retry.Info)
	}
	assertSingleTerminal(t, events)
}

func TestTurn_UnavailableChunk(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			{Unavailable: &UnavailableInfo{
				Provider: "gemini",
				Model:    "gemini-2.5-flash",
				Status:   404,
				Message:  "model not found",
			}},
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	terminal := assertSingleTerminal(t, events)
	errEv, ok := terminal.(ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %T", terminal)
	}
	if errEv.Status != 404 || errEv.Message != "model not found" {
		t.Errorf("error event = %+v", errEv)
	}
	if turn.State() != TurnErrored {
		t.Errorf("state = %v, want errored", turn.State())
	}
}

func TestTurn_StreamClosedWithoutFinish(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{textChunk("partial")},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	terminal := assertSingleTerminal(t, events)
	if _, ok := terminal.(InvalidStreamEvent); !ok {
		t.Fatalf("expected InvalidStreamEvent, got %T", terminal)
	}
}

func TestTurn_InvalidStreamErrChunk(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			ErrChunk(fmt.Errorf("openai-compat: %w: malformed frame", ErrInvalidStream)),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	terminal := assertSingleTerminal(t, events)
	if _, ok := terminal.(InvalidStreamEvent); !ok {
		t.Fatalf("expected InvalidStreamEvent, got %T", terminal)
	}
}

func TestTurn_ProviderErrorChunk(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			ErrChunk(&ProviderError{
				Provider:   "anthropic",
				Kind:       FailureAuthRejected,
				StatusCode: 401,
				Message:    "invalid api key",
			}),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	terminal := assertSingleTerminal(t, events)
	errEv, ok := terminal.(ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %T", terminal)
	}
	if errEv.Status != 401 {
		t.Errorf("status = %d, want 401", errEv.Status)
	}
}

func TestTurn_InvalidRequest(t *testing.T) {
	gen := &scriptedGenerator{}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), &GenerationRequest{}))

	terminal := assertSingleTerminal(t, events)
	if _, ok := terminal.(ErrorEvent); !ok {
		t.Fatalf("expected ErrorEvent for invalid request, got %T", terminal)
	}
	if turn.State() != TurnErrored {
		t.Errorf("state = %v, want errored", turn.State())
	}
}

func TestTurn_CitationsFlushOnceDeduplicated(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			DeltaChunk(&ContentDelta{
				Role:      RoleModel,
				Parts:     []*Part{TextPart("cited")},
				Citations: []Citation{{URL: "https://a.example", Title: "A"}},
			}),
			DeltaChunk(&ContentDelta{
				Role: RoleModel,
				Citations: []Citation{
					{URL: "https://a.example", Title: "A again"},
					{URL: "https://b.example", Title: "B"},
				},
			}),
			finishChunk(FinishStop, nil),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	var citationEvents []CitationEvent
	for _, ev := range events {
		if c, ok := ev.(CitationEvent); ok {
			citationEvents = append(citationEvents, c)
		}
	}
	if len(citationEvents) != 1 {
		t.Fatalf("expected one citation flush, got %d", len(citationEvents))
	}
	if got := len(citationEvents[0].Citations); got != 2 {
		t.Errorf("citations = %d, want 2 after de-duplication", got)
	}
	if last := events[len(events)-1]; !isTerminal(last) {
		t.Error("citation flush must precede the terminal event")
	}
}

func TestTurn_ModelSubstitutionAnnouncedOnce(t *testing.T) {
	gen := &scriptedGenerator{
		chunks: []GenerationChunk{
			DeltaChunk(&ContentDelta{
				Role:  RoleModel,
				Model: "gemini-2.0-flash",
				Parts: []*Part{TextPart("a")},
			}),
			DeltaChunk(&ContentDelta{
				Role:  RoleModel,
				Model: "gemini-2.0-flash",
				Parts: []*Part{TextPart("b")},
			}),
			finishChunk(FinishStop, nil),
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	count := 0
	for _, ev := range events {
		if info, ok := ev.(ModelInfoEvent); ok {
			count++
			if info.Model != "gemini-2.0-flash" {
				t.Errorf("model info = %q", info.Model)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected one ModelInfoEvent, got %d", count)
	}
}

func TestTurn_StreamOpenError(t *testing.T) {
	gen := &scriptedGenerator{
		streamErr: &ProviderError{
			Provider:   "gemini",
			Kind:       FailureQuotaExceeded,
			StatusCode: 429,
			Message:    "quota exceeded",
		},
	}
	turn := NewTurn(gen, "prompt-1")

	events := collectEvents(t, turn.Run(context.Background(), validRequest()))

	terminal := assertSingleTerminal(t, events)
	errEv, ok := terminal.(ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %T", terminal)
	}
	if errEv.Status != 429 {
		t.Errorf("status = %d, want 429", errEv.Status)
	}
}
