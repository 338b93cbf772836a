package agentloop

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes, checkable with errors.Is().
var (
	// ErrModelUnavailable indicates the requested model is not servable by
	// the backend. This is the only classification that advances the
	// fallback resolver to its next candidate.
	ErrModelUnavailable = errors.New("agentloop: model unavailable")

	// ErrAuthRejected indicates the credential was missing, malformed, or
	// refused (HTTP 401/403). Never retried.
	ErrAuthRejected = errors.New("agentloop: authentication rejected")

	// ErrQuotaExceeded indicates the backend's quota or rate limit was hit.
	ErrQuotaExceeded = errors.New("agentloop: quota exceeded")

	// ErrTransient indicates a temporary network or server failure. Retry
	// policy lives in the caller, not in this layer.
	ErrTransient = errors.New("agentloop: transient failure")

	// ErrFatal indicates a failure no retry or fallback can recover.
	ErrFatal = errors.New("agentloop: fatal failure")

	// ErrInvalidStream indicates the backend violated its own framing
	// protocol (not an HTTP-level error).
	ErrInvalidStream = errors.New("agentloop: invalid stream")

	// ErrInvalidRequest indicates request parameters that fail validation.
	ErrInvalidRequest = errors.New("agentloop: invalid request")

	// ErrUnsupportedFeature indicates an operation the backend has no
	// endpoint for (e.g. embeddings on a chat-only backend).
	ErrUnsupportedFeature = errors.New("agentloop: unsupported feature")
)

// FailureKind classifies an adapter failure for fallback decisions.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureModelUnavailable
	FailureQuotaExceeded
	FailureAuthRejected
	FailureFatal
)

// String returns the canonical name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureModelUnavailable:
		return "model_unavailable"
	case FailureQuotaExceeded:
		return "quota_exceeded"
	case FailureAuthRejected:
		return "auth_rejected"
	case FailureFatal:
		return "fatal"
	default:
		return "transient"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case FailureModelUnavailable:
		return ErrModelUnavailable
	case FailureQuotaExceeded:
		return ErrQuotaExceeded
	case FailureAuthRejected:
		return ErrAuthRejected
	case FailureFatal:
		return ErrFatal
	default:
		return ErrTransient
	}
}

// ProviderError is the normalized shape of every backend failure. Callers
// never see backend-specific error objects; classification is derived from
// status code and body text, never from stack traces.
type ProviderError struct {
	Provider   string
	Kind       FailureKind
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider '%s' %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider '%s' %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind.sentinel()
}

// ModelError reports a model rejected before any network call was made.
type ModelError struct {
	Model    string
	Provider string
	Reason   string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model '%s' for provider '%s': %s", e.Model, e.Provider, e.Reason)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ValidationError reports a request parameter that failed validation.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for '%s' (value: %v): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation failed for '%s': %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigError reports an unusable profile. Fatal, surfaced immediately,
// never retried.
type ConfigError struct {
	Profile string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("profile '%s': %s: %s", e.Profile, e.Field, e.Reason)
}

// modelNotFoundMarkers are body substrings that mark an HTTP 400/404 as a
// missing-model condition rather than a malformed request.
var modelNotFoundMarkers = []string{
	"model_not_found",
	"not found",
	"not supported",
	"does not exist",
	"unknown model",
	"NOT_FOUND",
}

// ClassifyStatus derives a ProviderError from an HTTP status and response
// body. 400/404 with a model-not-found body classify as ModelUnavailable;
// 401/403 as AuthRejected; 429 as QuotaExceeded; everything else non-2xx
// as Transient.
func ClassifyStatus(provider string, status int, body []byte) *ProviderError {
	text := string(body)
	kind := FailureTransient
	switch {
	case status == 400 || status == 404:
		kind = FailureFatal
		for _, marker := range modelNotFoundMarkers {
			if strings.Contains(text, marker) {
				kind = FailureModelUnavailable
				break
			}
		}
		if status == 404 && kind == FailureFatal {
			// A bare 404 on a model-scoped endpoint means the model is gone.
			kind = FailureModelUnavailable
		}
	case status == 401 || status == 403:
		kind = FailureAuthRejected
	case status == 429:
		kind = FailureQuotaExceeded
	}

	message := strings.TrimSpace(text)
	if len(message) > 512 {
		message = message[:512]
	}
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}

	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		Message:    message,
		Body:       text,
	}
}

// KindOf extracts the failure kind from any error produced by this layer.
// Unclassified errors count as transient.
func KindOf(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return FailureModelUnavailable
	case errors.Is(err, ErrAuthRejected):
		return FailureAuthRejected
	case errors.Is(err, ErrQuotaExceeded):
		return FailureQuotaExceeded
	case errors.Is(err, ErrFatal), errors.Is(err, ErrInvalidRequest):
		return FailureFatal
	default:
		return FailureTransient
	}
}

// IsModelUnavailable reports whether err should advance the fallback chain.
func IsModelUnavailable(err error) bool {
	return err != nil && KindOf(err) == FailureModelUnavailable
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return err != nil && KindOf(err) == FailureAuthRejected
}

// IsRetryable reports whether the caller may usefully retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case FailureTransient, FailureQuotaExceeded:
		return true
	default:
		return false
	}
}

// IsInvalidStream reports a framing-level protocol violation.
func IsInvalidStream(err error) bool {
	return errors.Is(err, ErrInvalidStream)
}

// StatusOf returns the HTTP status preserved on a normalized error, or 0.
func StatusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
