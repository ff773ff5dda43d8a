// Package outbound wraps every call to an external provider (calendar,
// messaging, voice platform) with timeout, bounded retry, per-(tenant,
// provider) circuit breaking and rate isolation, and durable tracking
// through the delivery ledger. Retry and breaker policy live here once;
// integrations never implement their own loops.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class categorizes a provider failure for retry policy.
type Class string

// Failure classes. Network, rate-limit, and temporary failures are retried
// with backoff; auth and permanent failures surface immediately so callers
// do not loop on a request that can never succeed.
const (
	ClassNetwork   Class = "NETWORK"
	ClassRateLimit Class = "RATE_LIMIT"
	ClassTemporary Class = "TEMPORARY"
	ClassAuth      Class = "AUTH"
	ClassPermanent Class = "PERMANENT"
)

// Retryable reports whether the class is eligible for another attempt.
func (c Class) Retryable() bool {
	switch c {
	case ClassAuth, ClassPermanent:
		return false
	}
	return true
}

// ProviderError is the tagged failure a provider integration returns.
// Wrapping preserves the underlying error for logs while the class drives
// the retry decision.
type ProviderError struct {
	Provider string
	Class    Class
	Err      error
}

// Error implements error.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
}

// Unwrap exposes the wrapped cause.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError tags err with a provider name and failure class.
func NewProviderError(provider string, class Class, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: class, Err: err}
}

// ErrCallerCancelled is returned by Invoke when the caller's context was
// done before the side effect was dispatched.
var ErrCallerCancelled = errors.New("caller cancelled before dispatch")

// Classify maps an arbitrary error to a failure class. Tagged provider
// errors keep their class; timeouts and transport errors are NETWORK;
// anything unrecognized is treated as TEMPORARY and retried.
func Classify(err error) Class {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}
	return ClassTemporary
}
