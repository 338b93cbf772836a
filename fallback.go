package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// fallbackCandidate is one entry in the ordered attempt list.
type fallbackCandidate struct {
	label string
	gen   ContentGenerator
	model string
	// oneShotOnly marks candidates that cannot stream; their responses are
	// rescued into single-chunk streams.
	oneShotOnly bool
	// discover marks the probe candidate whose model is resolved lazily,
	// only if the earlier candidates were exhausted.
	discover bool
}

// FallbackResolver wraps an adapter and transparently substitutes a working
// model when the primary is classified ModelUnavailable. It implements
// ContentGenerator, so turns drive it exactly like a bare adapter.
//
// Candidate order: primary model → the profile's secondary model on the same
// adapter → a model advertised by the backend's listing endpoint → the
// in-process offline path (non-cloud profiles only). AuthRejected and Fatal
// failures propagate immediately; Transient failures are returned to the
// caller, whose retry policy lives outside this layer.
type FallbackResolver struct {
	primary        ContentGenerator
	secondaryModel string
	offline        ContentGenerator
	cooldown       time.Duration
	logger         *slog.Logger

	// blockedUntil maps candidate label → cooldown deadline. Consulted
	// before each attempt, updated on unavailability. Selection happens
	// synchronously before any I/O, so a racing update only costs a
	// redundant retry.
	mu           sync.Mutex
	blockedUntil map[string]time.Time
	// sticky is the label of the last successful candidate, advisory only.
	sticky string

	probe singleflight.Group
	now   func() time.Time
}

// FallbackOption configures a FallbackResolver.
type FallbackOption func(*FallbackResolver)

// WithSecondaryModel sets the per-profile secondary model tried after a
// ModelUnavailable failure of the primary.
func WithSecondaryModel(model string) FallbackOption {
	return func(r *FallbackResolver) { r.secondaryModel = model }
}

// WithOfflineFallback adds an in-process local path as the last candidate.
// Only wire this for non-cloud profiles.
func WithOfflineFallback(gen ContentGenerator) FallbackOption {
	return func(r *FallbackResolver) { r.offline = gen }
}

// WithCooldown sets how long an unavailable candidate is skipped.
func WithCooldown(d time.Duration) FallbackOption {
	return func(r *FallbackResolver) { r.cooldown = d }
}

// WithFallbackLogger sets the resolver's logger.
func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(r *FallbackResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewFallbackResolver wraps the given adapter.
func NewFallbackResolver(primary ContentGenerator, opts ...FallbackOption) *FallbackResolver {
	r := &FallbackResolver{
		primary:      primary,
		cooldown:     2 * time.Minute,
		logger:       slog.Default(),
		blockedUntil: make(map[string]time.Time),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name reports the wrapped primary's provider id.
func (r *FallbackResolver) Name() ProviderID { return r.primary.Name() }

// SupportsModel defers to the wrapped primary.
func (r *FallbackResolver) SupportsModel(model string) bool {
	return r.primary.SupportsModel(model)
}

// CountTokens defers to the wrapped primary; token counting has no fallback
// semantics.
func (r *FallbackResolver) CountTokens(ctx context.Context, req *GenerationRequest) (int, error) {
	return r.primary.CountTokens(ctx, req)
}

// EmbedContent defers to the wrapped primary.
func (r *FallbackResolver) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	return r.primary.EmbedContent(ctx, texts)
}

// LastProvider returns the advisory sticky pointer: the label of the last
// candidate that succeeded.
func (r *FallbackResolver) LastProvider() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sticky
}

// candidates builds the ordered attempt list for one logical call. The
// discovery probe's network call is deferred until that candidate is
// actually reached.
func (r *FallbackResolver) candidates(req *GenerationRequest) []fallbackCandidate {
	name := r.primary.Name().String()
	list := []fallbackCandidate{
		{label: name + "/" + req.Model, gen: r.primary, model: req.Model},
	}
	if r.secondaryModel != "" && r.secondaryModel != req.Model {
		list = append(list, fallbackCandidate{
			label: name + "/" + r.secondaryModel,
			gen:   r.primary,
			model: r.secondaryModel,
		})
	}
	if _, ok := r.primary.(ModelLister); ok {
		list = append(list, fallbackCandidate{
			label:    name + "/discovered",
			gen:      r.primary,
			discover: true,
		})
	}
	if r.offline != nil {
		list = append(list, fallbackCandidate{
			label:       string(ProviderOffline),
			gen:         r.offline,
			model:       req.Model,
			oneShotOnly: true,
		})
	}
	return list
}

// discoverModel probes the backend's model listing and returns the first
// advertised model not already being attempted. Concurrent probes against
// the same adapter collapse into one request.
func (r *FallbackResolver) discoverModel(ctx context.Context, exclude string) string {
	lister, ok := r.primary.(ModelLister)
	if !ok {
		return ""
	}
	v, err, _ := r.probe.Do(r.primary.Name().String(), func() (any, error) {
		return lister.ListModels(ctx)
	})
	if err != nil {
		r.logger.Debug("model discovery probe failed", "provider", r.primary.Name(), "error", err)
		return ""
	}
	models, _ := v.([]string)
	for _, m := range models {
		if m != exclude && m != r.secondaryModel {
			return m
		}
	}
	return ""
}

func (r *FallbackResolver) isBlocked(label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.blockedUntil[label]
	return ok && r.now().Before(until)
}

func (r *FallbackResolver) block(label string) {
	r.mu.Lock()
	r.blockedUntil[label] = r.now().Add(r.cooldown)
	r.mu.Unlock()
}

func (r *FallbackResolver) markSuccess(label string) {
	r.mu.Lock()
	r.sticky = label
	r.mu.Unlock()
}

// retarget clones the request for a substitute model; the original request
// stays immutable.
func retarget(req *GenerationRequest, model string) *GenerationRequest {
	if req.Model == model {
		return req
	}
	clone := *req
	clone.Model = model
	return &clone
}

// GenerateContent runs the candidate list for a one-shot call. Only
// ModelUnavailable advances to the next candidate; exhaustion surfaces the
// last candidate's error to preserve diagnosability.
func (r *FallbackResolver) GenerateContent(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	var lastErr error
	for _, cand := range r.candidates(req) {
		if r.isBlocked(cand.label) {
			r.logger.Debug("skipping cooled-down candidate", "candidate", cand.label)
			continue
		}
		if cand.discover {
			cand.model = r.discoverModel(ctx, req.Model)
			if cand.model == "" {
				continue
			}
		}
		resp, err := cand.gen.GenerateContent(ctx, retarget(req, cand.model))
		if err == nil {
			r.markSuccess(cand.label)
			if resp.Model == "" {
				resp.Model = cand.model
			}
			return resp, nil
		}
		if !IsModelUnavailable(err) {
			return nil, err
		}
		r.logger.Warn("candidate unavailable, advancing",
			"candidate", cand.label, "error", err)
		r.block(cand.label)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &ProviderError{
			Provider: r.primary.Name().String(),
			Kind:     FailureModelUnavailable,
			Message:  fmt.Sprintf("no candidate available for model %q", req.Model),
		}
	}
	return nil, lastErr
}

// GenerateContentStream runs the candidate list for a streaming call. A
// candidate that can only answer one-shot is rescued by wrapping its
// response as a single-chunk stream, so callers see a uniform interface
// regardless of which attempt succeeded.
func (r *FallbackResolver) GenerateContentStream(ctx context.Context, req *GenerationRequest) (<-chan GenerationChunk, error) {
	var lastErr error
	for _, cand := range r.candidates(req) {
		if r.isBlocked(cand.label) {
			r.logger.Debug("skipping cooled-down candidate", "candidate", cand.label)
			continue
		}
		if cand.discover {
			cand.model = r.discoverModel(ctx, req.Model)
			if cand.model == "" {
				continue
			}
		}
		target := retarget(req, cand.model)

		if cand.oneShotOnly {
			resp, err := cand.gen.GenerateContent(ctx, target)
			if err == nil {
				r.markSuccess(cand.label)
				if resp.Model == "" {
					resp.Model = cand.model
				}
				return SingleChunkStream(resp), nil
			}
			lastErr = err
			continue
		}

		stream, err := cand.gen.GenerateContentStream(ctx, target)
		if err == nil {
			r.markSuccess(cand.label)
			if cand.model != req.Model {
				return stampModel(stream, cand.model), nil
			}
			return stream, nil
		}
		if !IsModelUnavailable(err) {
			return nil, err
		}
		r.logger.Warn("candidate unavailable, advancing",
			"candidate", cand.label, "error", err)
		r.block(cand.label)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &ProviderError{
			Provider: r.primary.Name().String(),
			Kind:     FailureModelUnavailable,
			Message:  fmt.Sprintf("no candidate available for model %q", req.Model),
		}
	}
	return nil, lastErr
}

// stampModel annotates every delta of a substituted stream with the model
// that is actually serving it, so turns can surface the switch.
func stampModel(in <-chan GenerationChunk, model string) <-chan GenerationChunk {
	out := make(chan GenerationChunk)
	go func() {
		defer close(out)
		for chunk := range in {
			if chunk.Delta != nil && chunk.Delta.Model == "" {
				chunk.Delta.Model = model
			}
			out <- chunk
		}
	}()
	return out
}
