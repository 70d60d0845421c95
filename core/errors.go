package core

import (
	"errors"
	"fmt"
	"strings"
)

// Fault classifies a provider failure into a small closed set of categories.
// Retry policy is written once against this set; provider implementations map
// their SDK errors into it and nothing downstream inspects SDK types again.
type Fault int

const (
	// FaultFatal covers authentication failures, invalid requests and any
	// error not positively identified as transient. Never retried.
	FaultFatal Fault = iota
	// FaultRateLimited marks HTTP 429 style throttling.
	FaultRateLimited
	// FaultOverloaded marks capacity exhaustion (Anthropic 529 and friends).
	FaultOverloaded
	// FaultServerError marks transient upstream failures (500, 503).
	FaultServerError
)

// String returns the lowercase category name.
func (f Fault) String() string {
	switch f {
	case FaultRateLimited:
		return "rate_limited"
	case FaultOverloaded:
		return "overloaded"
	case FaultServerError:
		return "server_error"
	default:
		return "fatal"
	}
}

// Retryable reports whether a call failing with this fault may be retried.
func (f Fault) Retryable() bool { return f != FaultFatal }

// FaultFromStatus maps an HTTP status code to a fault category. Codes not in
// the transient set are fatal.
func FaultFromStatus(status int) Fault {
	switch status {
	case 429:
		return FaultRateLimited
	case 529:
		return FaultOverloaded
	case 500, 503:
		return FaultServerError
	default:
		return FaultFatal
	}
}

// FaultFromText classifies an error by its message when no structured status
// is available. It recognizes the marker substrings the provider SDKs embed
// in their error text.
func FaultFromText(msg string) Fault {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate_limit") || strings.Contains(lower, "rate limit"):
		return FaultRateLimited
	case strings.Contains(lower, "overloaded"):
		return FaultOverloaded
	case strings.Contains(lower, "server_error"):
		return FaultServerError
	default:
		return FaultFatal
	}
}

// ProviderError wraps an underlying SDK error with its fault classification
// and the provider that produced it.
type ProviderError struct {
	Provider ProviderKind
	Fault    Fault
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Fault, e.Err)
}

// Unwrap exposes the underlying SDK error to errors.Is/As.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError classifies and wraps an SDK error. A nil err returns nil.
func NewProviderError(provider ProviderKind, fault Fault, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Fault: fault, Err: err}
}

// FaultOf extracts the fault category from an error chain. Unclassified
// errors fall back to text scanning, then fatal.
func FaultOf(err error) Fault {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Fault
	}
	if err != nil {
		return FaultFromText(err.Error())
	}
	return FaultFatal
}

// Retryable reports whether err carries a retryable fault.
func Retryable(err error) bool { return FaultOf(err).Retryable() }

// ErrSessionNotFound is returned by session stores when the requested session
// does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoProvider is returned when a session references a provider kind the
// engine was not configured with.
var ErrNoProvider = errors.New("no provider configured for agent")
