package agentloop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_EmbeddedDefaults(t *testing.T) {
	tests := []struct {
		id            ProviderID
		wantDefault   string
		wantStreaming bool
	}{
		{ProviderGemini, "gemini-2.5-flash", true},
		{ProviderAnthropic, "claude-sonnet-4-20250514", true},
		{ProviderOpenAICompat, "gpt-4o-mini", true},
		{ProviderOllama, "llama3.2", true},
		{ProviderOffline, "offline-small", false},
	}
	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			entry, ok := LookupProviderModels(tt.id)
			if !ok {
				t.Fatalf("no registry entry for %s", tt.id)
			}
			if entry.DefaultModel != tt.wantDefault {
				t.Errorf("default model = %q, want %q", entry.DefaultModel, tt.wantDefault)
			}
			if entry.SupportsStreaming != tt.wantStreaming {
				t.Errorf("streaming = %v, want %v", entry.SupportsStreaming, tt.wantStreaming)
			}
			if entry.FallbackModel == "" {
				t.Error("every provider carries a fallback model")
			}
		})
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	if _, ok := LookupProviderModels(ProviderID("nonexistent")); ok {
		t.Error("unknown provider must not resolve")
	}
	if DefaultModelFor(ProviderID("nonexistent")) != "" {
		t.Error("unknown provider default must be empty")
	}
}

func TestRegistry_RuntimeOverride(t *testing.T) {
	id := ProviderID("test-backend")
	RegisterProviderModels(id, ProviderModels{
		DefaultModel:  "test-1",
		FallbackModel: "test-2",
	})
	if got := DefaultModelFor(id); got != "test-1" {
		t.Errorf("DefaultModelFor = %q", got)
	}
	if got := FallbackModelFor(id); got != "test-2" {
		t.Errorf("FallbackModelFor = %q", got)
	}
}

func TestRegistry_LoadFromFileMerges(t *testing.T) {
	doc := `
version: "test"
providers:
  ollama:
    default_model: qwen2.5
    fallback_model: llama3.2
    supports_streaming: true
`
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadModelRegistryFromFile(path); err != nil {
		t.Fatalf("LoadModelRegistryFromFile() error = %v", err)
	}

	if got := DefaultModelFor(ProviderOllama); got != "qwen2.5" {
		t.Errorf("overridden default = %q", got)
	}
	// Providers absent from the file keep their embedded entries.
	if got := DefaultModelFor(ProviderGemini); got == "" {
		t.Error("merge dropped an untouched provider")
	}

	// Restore the embedded entry for other tests.
	RegisterProviderModels(ProviderOllama, ProviderModels{
		DefaultModel:       "llama3.2",
		FallbackModel:      "llama3.2:1b",
		EmbeddingModel:     "nomic-embed-text",
		SupportsEmbeddings: true,
		SupportsStreaming:  true,
	})
}

func TestRegistry_LoadFromFileErrors(t *testing.T) {
	if err := LoadModelRegistryFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadModelRegistryFromFile(path); err == nil {
		t.Error("malformed document must error")
	}
}
