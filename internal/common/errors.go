package common

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures for retry and quarantine routing.
type ErrorKind string

const (
	// KindCritical is an unrecoverable input defect: corrupt file,
	// disallowed path, empty document. Routes straight to quarantine.
	KindCritical ErrorKind = "CRITICAL"
	// KindTransient covers timeouts, rate-limit backpressure and other
	// failures worth retrying.
	KindTransient ErrorKind = "TRANSIENT"
	// KindDegraded marks reduced-fidelity processing (pattern fallback);
	// it is logged, never fatal.
	KindDegraded ErrorKind = "DEGRADED"
	// KindValidation is a structural mismatch in generated output.
	KindValidation ErrorKind = "VALIDATION"
	// KindRateLimitTimeout means admission could not be acquired within
	// the caller's deadline.
	KindRateLimitTimeout ErrorKind = "RATE_LIMIT_TIMEOUT"
	// KindCancelled propagates caller cancellation. Treated as critical
	// by the orchestrator.
	KindCancelled ErrorKind = "CANCELLED"
	// KindParse is a malformed service response; retryable.
	KindParse ErrorKind = "PARSE"
	// KindAuth is a non-retryable auth failure from the service.
	KindAuth ErrorKind = "AUTH"
)

// Retryable reports whether a kind should consume a backoff cycle.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindParse:
		return true
	default:
		return false
	}
}

// Common sentinel errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrEmptyDocument = errors.New("document has no extractable text")
)

// AppError carries a kind, a message and a wrapped cause.
type AppError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError builds an AppError of the given kind.
func NewAppError(kind ErrorKind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// Critical wraps err as a critical failure.
func Critical(message string, cause error) *AppError {
	return NewAppError(KindCritical, message, cause)
}

// Transient wraps err as a retryable failure.
func Transient(message string, cause error) *AppError {
	return NewAppError(KindTransient, message, cause)
}

// KindOf extracts the ErrorKind from err, mapping context errors to
// Cancelled/Transient and everything unclassified to Critical.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindCritical
}

// WrapError adds a message prefix, preserving the wrapped chain.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
