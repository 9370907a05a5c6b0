// Package coacherr defines the error taxonomy shared by the transport,
// provider, and orchestration layers.
package coacherr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindSecretNotFound       Kind = "secret_not_found"
	KindInvalidSecretFormat  Kind = "invalid_secret_format"
	KindNetworkUnavailable   Kind = "network_unavailable"
	KindTimeout              Kind = "timeout"
	KindCancelled            Kind = "cancelled"
	KindUnauthorized         Kind = "unauthorized"
	KindRateLimited          Kind = "rate_limited"
	KindProviderError        Kind = "provider_error"
	KindMalformedStreamChunk Kind = "malformed_stream_chunk"
	KindContextUnavailable   Kind = "context_unavailable"
	KindFunctionDispatch     Kind = "function_dispatch_failed"
	KindInvariantViolation   Kind = "invariant_violation"
)

// Error is the typed error surfaced by the engine. Message is safe to show
// to the user; Code carries the provider or HTTP code when one exists.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter *time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that records its cause for errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithCode attaches a provider or HTTP status code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithRetryAfter attaches the retry hint from a rate-limit response.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = &d
	return e
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified errors
// report as provider errors so callers always have a displayable kind.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindProviderError
}

// AsError returns the typed error in the chain, or wraps err so callers
// always receive a displayable *Error.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return Wrap(KindProviderError, err.Error(), err)
}

// UserMessage renders a message suitable for display, including retry timing
// on rate limits when the provider supplied one.
func UserMessage(err error) string {
	ce := AsError(err)
	switch ce.Kind {
	case KindRateLimited:
		if ce.RetryAfter != nil {
			return fmt.Sprintf("The coach is rate limited right now. Try again in about %d seconds.", int(ce.RetryAfter.Seconds()))
		}
		return "The coach is rate limited right now. Try again in a moment."
	case KindNetworkUnavailable:
		return "No network connection. Your message is saved and you can retry when you're back online."
	case KindTimeout:
		return "The request timed out. Your message is saved; try again."
	case KindCancelled:
		return "Request cancelled."
	case KindUnauthorized:
		return "The provider rejected the configured API key. Check your credentials in settings."
	default:
		return ce.Message
	}
}
