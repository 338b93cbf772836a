package agentloop

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FailureKind
	}{
		{"400 with model_not_found code", 400, `{"error":{"code":"model_not_found"}}`, FailureModelUnavailable},
		{"400 with does-not-exist text", 400, `The model gpt-5-nano does not exist`, FailureModelUnavailable},
		{"400 with NOT_FOUND status", 400, `{"error":{"status":"NOT_FOUND"}}`, FailureModelUnavailable},
		{"bare 400 is fatal", 400, `{"error":{"message":"invalid request"}}`, FailureFatal},
		{"bare 404 is model unavailable", 404, ``, FailureModelUnavailable},
		{"401 is auth", 401, `invalid api key`, FailureAuthRejected},
		{"403 is auth", 403, `forbidden`, FailureAuthRejected},
		{"429 is quota", 429, `rate limit exceeded`, FailureQuotaExceeded},
		{"500 is transient", 500, `internal error`, FailureTransient},
		{"503 is transient", 503, ``, FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus("test-provider", tt.status, []byte(tt.body))
			if err.Kind != tt.want {
				t.Errorf("ClassifyStatus(%d, %q).Kind = %v, want %v", tt.status, tt.body, err.Kind, tt.want)
			}
			if err.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", err.StatusCode, tt.status)
			}
		})
	}
}

func TestClassifyStatus_MessageTruncation(t *testing.T) {
	body := strings.Repeat("x", 2048)
	err := ClassifyStatus("p", 500, []byte(body))
	if len(err.Message) != 512 {
		t.Errorf("message length = %d, want 512", len(err.Message))
	}
	if err.Body != body {
		t.Error("full body must be preserved on the error")
	}
}

func TestProviderError_SentinelMatching(t *testing.T) {
	tests := []struct {
		kind     FailureKind
		sentinel error
	}{
		{FailureModelUnavailable, ErrModelUnavailable},
		{FailureAuthRejected, ErrAuthRejected},
		{FailureQuotaExceeded, ErrQuotaExceeded},
		{FailureTransient, ErrTransient},
		{FailureFatal, ErrFatal},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := &ProviderError{Provider: "p", Kind: tt.kind, Message: "m"}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("ProviderError{Kind: %v} does not match %v", tt.kind, tt.sentinel)
			}
		})
	}
}

func TestProviderError_WrappedCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ProviderError{Provider: "p", Kind: FailureTransient, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("explicit cause must win over the kind sentinel")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", &ProviderError{Kind: FailureQuotaExceeded})
	if got := KindOf(wrapped); got != FailureQuotaExceeded {
		t.Errorf("KindOf(wrapped) = %v", got)
	}
	if got := KindOf(errors.New("plain")); got != FailureTransient {
		t.Errorf("KindOf(plain) = %v, unclassified errors count as transient", got)
	}
}

func TestRetryability(t *testing.T) {
	if !IsRetryable(&ProviderError{Kind: FailureTransient}) {
		t.Error("transient failures are retryable")
	}
	if !IsRetryable(&ProviderError{Kind: FailureQuotaExceeded}) {
		t.Error("quota failures are retryable")
	}
	if IsRetryable(&ProviderError{Kind: FailureAuthRejected}) {
		t.Error("auth failures are not retryable")
	}
	if IsRetryable(&ProviderError{Kind: FailureModelUnavailable}) {
		t.Error("model unavailability advances fallback, it is not retried")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestIsInvalidStream(t *testing.T) {
	err := fmt.Errorf("gemini: %w: stream closed early", ErrInvalidStream)
	if !IsInvalidStream(err) {
		t.Error("wrapped ErrInvalidStream not detected")
	}
	if IsInvalidStream(ErrTransient) {
		t.Error("unrelated sentinel detected as invalid stream")
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ProviderError{Kind: FailureAuthRejected, StatusCode: 401})
	if got := StatusOf(err); got != 401 {
		t.Errorf("StatusOf() = %d, want 401", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("StatusOf(plain) = %d, want 0", got)
	}
}

func TestModelError_Unwrap(t *testing.T) {
	err := &ModelError{
		Model:    "gpt-oss",
		Provider: "anthropic",
		Reason:   "not a claude model",
		Err:      ErrModelUnavailable,
	}
	if !IsModelUnavailable(err) {
		t.Error("ModelError wrapping ErrModelUnavailable must classify as unavailable")
	}
}
