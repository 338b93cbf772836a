package agentloop

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/models.yaml
var modelRegistryYAML []byte

// The registry is model METADATA for defaults and fallback selection, not
// validation - backend APIs remain the source of truth. Embedded data may
// lag behind provider releases; callers can override it with
// LoadModelRegistryFromFile or RegisterProviderModels.

// ProviderModels describes the models known for one backend family.
type ProviderModels struct {
	DefaultModel       string `yaml:"default_model"`
	FallbackModel      string `yaml:"fallback_model"`
	ContextWindow      int    `yaml:"context_window"`
	EmbeddingModel     string `yaml:"embedding_model"`
	SupportsEmbeddings bool   `yaml:"supports_embeddings"`
	SupportsStreaming  bool   `yaml:"supports_streaming"`
}

// ModelRegistry is the full embedded registry document.
type ModelRegistry struct {
	Version     string                    `yaml:"version"`
	LastUpdated string                    `yaml:"last_updated"`
	Providers   map[string]ProviderModels `yaml:"providers"`
}

var (
	registryMu   sync.RWMutex
	registryOnce sync.Once
	registry     *ModelRegistry
)

func loadEmbeddedRegistry() {
	registryOnce.Do(func() {
		var reg ModelRegistry
		if err := yaml.Unmarshal(modelRegistryYAML, &reg); err != nil {
			// The embedded document is checked in; a parse failure is a
			// build defect, not a runtime condition.
			panic(fmt.Sprintf("agentloop: embedded model registry is invalid: %v", err))
		}
		registry = &reg
	})
}

// LookupProviderModels returns the registry entry for a provider.
func LookupProviderModels(id ProviderID) (ProviderModels, bool) {
	loadEmbeddedRegistry()
	registryMu.RLock()
	defer registryMu.RUnlock()
	entry, ok := registry.Providers[id.String()]
	return entry, ok
}

// DefaultModelFor returns the registry's default model for a provider, or "".
func DefaultModelFor(id ProviderID) string {
	entry, _ := LookupProviderModels(id)
	return entry.DefaultModel
}

// FallbackModelFor returns the registry's secondary model for a provider,
// or "".
func FallbackModelFor(id ProviderID) string {
	entry, _ := LookupProviderModels(id)
	return entry.FallbackModel
}

// RegisterProviderModels overrides one provider's registry entry at runtime.
func RegisterProviderModels(id ProviderID, models ProviderModels) {
	loadEmbeddedRegistry()
	registryMu.Lock()
	defer registryMu.Unlock()
	registry.Providers[id.String()] = models
}

// LoadModelRegistryFromFile replaces the registry with a YAML document read
// from disk. Entries for providers absent from the file are kept.
func LoadModelRegistryFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model registry: %w", err)
	}
	var reg ModelRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("parse model registry: %w", err)
	}
	loadEmbeddedRegistry()
	registryMu.Lock()
	defer registryMu.Unlock()
	if reg.Version != "" {
		registry.Version = reg.Version
	}
	for name, entry := range reg.Providers {
		registry.Providers[name] = entry
	}
	return nil
}
