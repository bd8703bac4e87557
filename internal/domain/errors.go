package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure per the propagation policy: adapters tag their
// results, the coordinator decides retry vs fallback, the edges map kinds to
// wire responses.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputInvalid
	KindUpstreamTransient
	KindUpstreamMalformed
	KindUpstreamEmpty
	KindUpstreamThrottled
	KindStoreConflict
	KindStoreUnavailable
	KindCacheUnavailable
	KindValidationFailed
	KindDuplicateDetected
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "input_invalid"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindUpstreamMalformed:
		return "upstream_malformed"
	case KindUpstreamEmpty:
		return "upstream_empty"
	case KindUpstreamThrottled:
		return "upstream_throttled"
	case KindStoreConflict:
		return "store_conflict"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindCacheUnavailable:
		return "cache_unavailable"
	case KindValidationFailed:
		return "validation_failed"
	case KindDuplicateDetected:
		return "duplicate_detected"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Error is the kinded error carried across component boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// RetryAfter is set on throttled upstream errors when the source supplied
	// a Retry-After hint.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kinded error. An optional trailing error is wrapped.
func E(kind Kind, msg string, wrapped ...error) error {
	err := &Error{Kind: kind, Msg: msg}
	if len(wrapped) > 0 {
		err.Err = wrapped[0]
	}
	return err
}

// Throttled builds an UpstreamThrottled error carrying the retry hint.
func Throttled(msg string, retryAfter time.Duration) error {
	return &Error{Kind: KindUpstreamThrottled, Msg: msg, RetryAfter: retryAfter}
}

// KindOf extracts the Kind from err, unwrapping as needed. Plain errors map to
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the coordinator may retry the failed call.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamTransient, KindUpstreamThrottled:
		return true
	}
	return false
}

// RetryAfterOf returns the upstream's retry hint, or zero when absent.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
