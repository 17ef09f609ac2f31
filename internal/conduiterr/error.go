// Package conduiterr defines the single typed error used across conduit's
// request pipeline, provider adapters, cache, and repository layers.
package conduiterr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a conduit failure into the taxonomy the pipeline and
// adapters surface to callers.
type Kind string

const (
	// UnknownModel indicates a registry lookup failed to resolve a model or alias.
	UnknownModel Kind = "unknown_model"

	// ValidationError indicates params out of range or a malformed request
	// (missing messages, bad temperature, etc).
	ValidationError Kind = "validation_error"

	// AuthError indicates a provider 401/403.
	AuthError Kind = "auth_error"

	// RateLimited indicates a provider 429; classified as retryable.
	RateLimited Kind = "rate_limited"

	// UpstreamUnavailable indicates a provider 5xx; classified as retryable.
	UpstreamUnavailable Kind = "upstream_unavailable"

	// NetworkError indicates a transport failure; classified as retryable.
	NetworkError Kind = "network_error"

	// Timeout indicates a client-side deadline was exceeded; classified as
	// retryable.
	Timeout Kind = "timeout"

	// BadRequest indicates a provider 4xx other than 401/403/429.
	BadRequest Kind = "bad_request"

	// ContentRefused indicates a safety/refusal response from the provider.
	ContentRefused Kind = "content_refused"

	// ContextTooLarge indicates the prompt exceeds the model's context window.
	ContextTooLarge Kind = "context_too_large"

	// SchemaMismatch indicates a structured-output parse failure. It is
	// returned on the first failed parse; the pipeline does not re-ask the
	// model.
	SchemaMismatch Kind = "schema_mismatch"

	// ToolLoopExhausted indicates the tool-call loop's hop cap was reached.
	ToolLoopExhausted Kind = "tool_loop_exhausted"

	// Cancelled indicates cancellation was observed at a suspension point.
	Cancelled Kind = "cancelled"
)

// retryable reports whether a failure of this kind is transient (rate
// limiting, 5xx, transport failure, timeout). Neither the adapters nor the
// pipeline retry on their own; the classification is only exposed to callers
// through Error.Retryable.
func (k Kind) retryable() bool {
	switch k {
	case RateLimited, UpstreamUnavailable, NetworkError, Timeout:
		return true
	default:
		return false
	}
}

// Detail carries optional diagnostic payload rendered only at higher
// verbosities; it is populated lazily, never eagerly marshaled into Error().
type Detail struct {
	ExceptionType string
	RequestParams map[string]any
	RetryCount    int
	RawResponse   string
}

// Error is the single typed error conduit uses throughout the pipeline,
// adapters, cache, and repository. Category mirrors Kind for user-facing
// surfaces that want a coarser label than the full taxonomy.
type Error struct {
	Kind      Kind
	Message   string
	Category  string
	Timestamp time.Time
	Detail    *Detail

	cause error
}

// New constructs an Error of the given kind. cause may be nil.
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Category:  string(kind),
		Timestamp: time.Now(),
		cause:     cause,
	}
}

// Retryable reports whether this error's Kind is classified as transient.
// No conduit layer retries on it; acting on it is left to the caller.
func (e *Error) Retryable() bool { return e.Kind.retryable() }

// WithDetail attaches diagnostic detail and returns the receiver for chaining.
func (e *Error) WithDetail(d *Detail) *Error {
	e.Detail = d
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap preserves the original error chain.
func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, conduiterr.New(kind, "", nil)) comparisons by kind
// alone, matching the sentinel-style comparisons used against ProviderError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap prefixes an underlying error with a context label without discarding
// it. Callers pass a fixed label (such as "cache: get" or "repository: wipe");
// no model, cache key or duration is attached, and adapter errors returned
// by the pipeline are not wrapped. If err is already a *Error its Kind and
// Detail are preserved and only the message is annotated.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		wrapped := *e
		wrapped.Message = fmt.Sprintf("%s: %s", context, e.Message)
		wrapped.cause = err
		return &wrapped
	}
	return fmt.Errorf("%s: %w", context, err)
}
