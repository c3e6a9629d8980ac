package providers

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure into the closed taxonomy the engine
// handles.
type Kind int

// Error kinds.
const (
	// KindRateLimited failures carry a retry-after hint and gate further
	// calls for the account.
	KindRateLimited Kind = iota
	// KindNotFound covers missing messages, threads and labels.
	KindNotFound
	// KindPermissionDenied covers revoked or insufficient credentials.
	KindPermissionDenied
	// KindTransient failures (timeouts, 5xx) are safe to retry.
	KindTransient
	// KindPermanent failures (invalid recipient, malformed request) are
	// not retryable.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a provider failure normalized into the taxonomy.
type Error struct {
	Err        error
	Op         string
	RetryAfter time.Duration
	Kind       Kind
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited builds a rate-limit error with a retry-after hint.
func RateLimited(op string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Err: err, RetryAfter: retryAfter}
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified
// errors are reported as transient so callers err on the side of retrying.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsTransient reports whether the failure is safe to retry.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited
}

// IsNotFound reports whether the failure is a missing-resource error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// RetryAfterHint returns the provider's retry-after hint, or zero.
func RetryAfterHint(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
