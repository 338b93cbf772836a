// Package factory resolves auth/config profiles into concrete content
// generators. It is the only place that knows every backend family;
// everything downstream works against the generic generator interface.
package factory

import (
	"fmt"
	"log/slog"

	"agentloop"
	"agentloop/providers/anthropic"
	"agentloop/providers/gemini"
	"agentloop/providers/offline"
	"agentloop/providers/ollama"
	"agentloop/providers/openaicompat"
)

// ClientIDHeader is the stable client identifier stamped on every
// HTTP-level adapter so telemetry wrappers see consistent request metadata
// regardless of backend.
const ClientIDHeader = "x-agentloop-client"

// ClientID is the value sent under ClientIDHeader.
const ClientID = "agentloop/1"

// Profile selects and configures one backend. Zero-valued fields resolve
// from environment variables, the persisted credential store, and built-in
// defaults, in that order.
type Profile struct {
	// Name labels the profile in errors and logs.
	Name string

	// Backend picks the adapter family.
	Backend agentloop.ProviderID

	// Model overrides the model identifier.
	Model string

	// SecondaryModel overrides the fallback model tried when the primary is
	// unavailable. Defaults to the model registry's entry.
	SecondaryModel string

	// Endpoint overrides the backend base URL.
	Endpoint string

	// APIKey overrides credential resolution.
	APIKey string

	// Headers are custom header overrides merged over the uniform client
	// metadata headers.
	Headers map[string]string

	// CredentialPath overrides the persisted credential store location.
	CredentialPath string

	// DisableFallback skips wrapping the adapter in a fallback resolver.
	DisableFallback bool

	// TraceSink, when set, wraps the generator chain in a tracing decorator.
	TraceSink agentloop.TraceSink

	// Logger is injected into the adapter and resolver. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// resolved carries a profile after defaulting.
type resolved struct {
	Profile
}

// Resolve applies the precedence rules (explicit > environment >
// credential store > built-in default) and fails fast on incomplete
// profiles, before any adapter is constructed.
func (p Profile) resolve() (resolved, error) {
	out := resolved{Profile: p}
	if out.Name == "" {
		out.Name = string(p.Backend)
	}
	if !p.Backend.IsValid() {
		return out, &agentloop.ConfigError{
			Profile: out.Name,
			Field:   "backend",
			Reason:  fmt.Sprintf("unsupported backend %q", p.Backend),
		}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.CredentialPath == "" {
		out.CredentialPath = agentloop.DefaultCredentialPath()
	}
	if out.Model == "" {
		out.Model = agentloop.ModelOverrideFromEnv()
	}
	if out.Model == "" {
		out.Model = agentloop.DefaultModelFor(p.Backend)
	}
	if out.SecondaryModel == "" {
		out.SecondaryModel = agentloop.FallbackModelFor(p.Backend)
	}
	if out.APIKey == "" {
		out.APIKey = agentloop.APIKeyFromEnv(p.Backend)
	}
	if out.APIKey == "" {
		if cred, ok := agentloop.LoadStoredCredential(out.CredentialPath, p.Backend); ok {
			out.APIKey = cred.Token()
		}
	}
	if out.Endpoint == "" {
		out.Endpoint = agentloop.EndpointFromEnv(p.Backend)
	}

	switch p.Backend {
	case agentloop.ProviderGemini, agentloop.ProviderAnthropic:
		if out.APIKey == "" {
			return out, &agentloop.ConfigError{
				Profile: out.Name,
				Field:   "api_key",
				Reason:  "no API key in profile, environment, or credential store",
			}
		}
	case agentloop.ProviderOpenAICompat:
		if out.APIKey == "" && out.Endpoint == "" {
			return out, &agentloop.ConfigError{
				Profile: out.Name,
				Field:   "api_key",
				Reason:  "an API key or an explicit gateway endpoint is required",
			}
		}
	}
	if out.Model == "" {
		return out, &agentloop.ConfigError{
			Profile: out.Name,
			Field:   "model",
			Reason:  "no model configured and no registry default",
		}
	}
	return out, nil
}

// headers merges the uniform client metadata with profile overrides.
func (r resolved) headers() map[string]string {
	merged := map[string]string{ClientIDHeader: ClientID}
	for k, v := range r.Headers {
		merged[k] = v
	}
	return merged
}

// NewGenerator builds exactly one concrete adapter for the profile, without
// fallback or tracing wrappers.
func NewGenerator(p Profile) (agentloop.ContentGenerator, error) {
	r, err := p.resolve()
	if err != nil {
		return nil, err
	}
	return r.newAdapter()
}

func (r resolved) newAdapter() (agentloop.ContentGenerator, error) {
	switch r.Backend {
	case agentloop.ProviderGemini:
		return gemini.NewProvider(gemini.Config{
			APIKey:   r.APIKey,
			Endpoint: r.Endpoint,
			Headers:  r.headers(),
			Logger:   r.Logger,
		})
	case agentloop.ProviderAnthropic:
		return anthropic.NewProvider(anthropic.Config{
			APIKey:   r.APIKey,
			Endpoint: r.Endpoint,
			Headers:  r.headers(),
			Logger:   r.Logger,
		})
	case agentloop.ProviderOpenAICompat:
		return openaicompat.NewProvider(openaicompat.Config{
			APIKey:   r.APIKey,
			Endpoint: r.Endpoint,
			Headers:  r.headers(),
			Logger:   r.Logger,
		})
	case agentloop.ProviderOllama:
		return ollama.NewProvider(ollama.Config{
			Endpoint: r.Endpoint,
			Headers:  r.headers(),
			Logger:   r.Logger,
		})
	case agentloop.ProviderOffline:
		return offline.NewProvider(), nil
	default:
		return nil, &agentloop.ConfigError{
			Profile: r.Name,
			Field:   "backend",
			Reason:  fmt.Sprintf("unsupported backend %q", r.Backend),
		}
	}
}

// BuildGenerator builds the full generator chain for a profile: adapter,
// fallback resolver (with offline rescue for non-cloud backends), and the
// tracing decorator when a sink is configured.
func BuildGenerator(p Profile) (agentloop.ContentGenerator, error) {
	r, err := p.resolve()
	if err != nil {
		return nil, err
	}
	gen, err := r.newAdapter()
	if err != nil {
		return nil, err
	}

	if !r.DisableFallback && r.Backend != agentloop.ProviderOffline {
		opts := []agentloop.FallbackOption{
			agentloop.WithSecondaryModel(r.SecondaryModel),
			agentloop.WithFallbackLogger(r.Logger),
		}
		if !isCloudBackend(r.Backend) {
			opts = append(opts, agentloop.WithOfflineFallback(offline.NewProvider()))
		}
		gen = agentloop.NewFallbackResolver(gen, opts...)
	}

	if r.TraceSink != nil {
		gen = agentloop.NewTracingGenerator(gen, r.TraceSink)
	}
	return gen, nil
}

// isCloudBackend reports whether a backend is a hosted cloud API. The
// in-process offline rescue path is reserved for local backends, where a
// cloud outage cannot be the cause of failure.
func isCloudBackend(id agentloop.ProviderID) bool {
	switch id {
	case agentloop.ProviderGemini, agentloop.ProviderAnthropic, agentloop.ProviderOpenAICompat:
		return true
	default:
		return false
	}
}
