package agentloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memorySink struct {
	mu     sync.Mutex
	traces []*GenerationTrace
}

func (s *memorySink) Record(trace *GenerationTrace) {
	s.mu.Lock()
	s.traces = append(s.traces, trace)
	s.mu.Unlock()
}

func (s *memorySink) wait(t *testing.T, n int) []*GenerationTrace {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.traces) >= n {
			out := make([]*GenerationTrace, len(s.traces))
			copy(out, s.traces)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d traces", n)
	return nil
}

func TestTracing_OneShot(t *testing.T) {
	sink := &memorySink{}
	gen := NewTracingGenerator(&fakeGen{name: ProviderOllama}, sink)

	resp, err := gen.GenerateContent(context.Background(), &GenerationRequest{
		Model:    "llama3.2",
		Contents: []Content{NewTextContent(RoleUser, "hello")},
		PromptID: "p-1",
	})
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}

	traces := sink.wait(t, 1)
	trace := traces[0]
	if trace.Provider != "ollama" || trace.Model != "llama3.2" || trace.PromptID != "p-1" {
		t.Errorf("trace identity = %+v", trace)
	}
	if trace.Streaming {
		t.Error("one-shot trace marked streaming")
	}
	if trace.InputText != "User: hello" {
		t.Errorf("input text = %q", trace.InputText)
	}
	if trace.OutputText != resp.Text() {
		t.Errorf("output text = %q, want %q", trace.OutputText, resp.Text())
	}
	if trace.Err != "" {
		t.Errorf("unexpected trace error %q", trace.Err)
	}
}

func TestTracing_StreamRecordsOnClose(t *testing.T) {
	sink := &memorySink{}
	gen := NewTracingGenerator(&fakeGen{name: ProviderOllama}, sink)

	stream, err := gen.GenerateContentStream(context.Background(), &GenerationRequest{
		Model:    "llama3.2",
		Contents: []Content{NewTextContent(RoleUser, "hello")},
	})
	if err != nil {
		t.Fatalf("GenerateContentStream() error = %v", err)
	}
	text, reason, _ := drainText(t, stream)
	if reason != FinishStop {
		t.Fatalf("finish reason = %v", reason)
	}

	traces := sink.wait(t, 1)
	trace := traces[0]
	if !trace.Streaming {
		t.Error("stream trace not marked streaming")
	}
	if trace.OutputText != text {
		t.Errorf("output text = %q, want %q", trace.OutputText, text)
	}
}

func TestTracing_ErrorRecorded(t *testing.T) {
	sink := &memorySink{}
	failing := &fakeGen{
		name:     ProviderOpenAICompat,
		failures: map[string]error{"gpt-4o": ClassifyStatus("openai-compat", 500, []byte("boom"))},
	}
	gen := NewTracingGenerator(failing, sink)

	_, err := gen.GenerateContent(context.Background(), &GenerationRequest{
		Model:    "gpt-4o",
		Contents: []Content{NewTextContent(RoleUser, "x")},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	traces := sink.wait(t, 1)
	if traces[0].Err == "" {
		t.Error("failure not recorded on trace")
	}
}
