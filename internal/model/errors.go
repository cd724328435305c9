package model

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes the queue distinguishes.
var (
	// ErrMalformedInput marks a file whose name does not match the subband
	// convention. The file is skipped; it never blocks a group.
	ErrMalformedInput = errors.New("malformed input file")

	// ErrIncompleteGroup marks a group that never reached the minimum
	// acceptable member count before the abandon timeout.
	ErrIncompleteGroup = errors.New("incomplete group abandoned")

	// ErrStoreTransient marks a store failure worth retrying with backoff
	// (lock contention, busy database).
	ErrStoreTransient = errors.New("store temporarily unavailable")

	// ErrStoreFatal marks a store failure the process cannot recover from
	// (disk full, permissions, corrupt schema).
	ErrStoreFatal = errors.New("store unavailable")
)

// ConversionError wraps a failure reported by the external conversion tool,
// tagged as transient (retry with backoff) or fatal (fail the group now).
type ConversionError struct {
	Transient bool
	Err       error
}

func (e *ConversionError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("conversion failed (%s): %v", kind, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// TransientConversion tags err as a retryable conversion failure.
func TransientConversion(err error) error {
	return &ConversionError{Transient: true, Err: err}
}

// FatalConversion tags err as an unrecoverable conversion failure.
func FatalConversion(err error) error {
	return &ConversionError{Transient: false, Err: err}
}

// RetryableConversion reports whether a Convert error should be retried.
// A conversion that ran out of its wall-clock budget counts as retryable.
func RetryableConversion(err error) bool {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return false
}
