// Package errors provides error handling for aidigest.
//
// It re-exports github.com/cockroachdb/errors and defines the failure
// taxonomy the pipeline uses to decide what is retried, what is contained
// per article, and what ends a run. Taxonomy sentinels are attached with
// Mark, so Is keeps working through any amount of wrapping:
//
//	return errors.Transient(errors.Wrap(err, "chat completion"))
//
//	if errors.IsTransient(err) {
//	    // back off and retry
//	}
package errors

import (
	"context"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	WithHint     = crdb.WithHint
	WithDetailf  = crdb.WithDetailf
	Mark         = crdb.Mark
	Join         = crdb.Join
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Taxonomy
var (
	// ErrTransientProvider marks provider failures worth retrying (timeouts, 429, 5xx)
	ErrTransientProvider = crdb.New("transient provider error")
	// ErrPermanentProvider marks provider failures that will not succeed on retry
	ErrPermanentProvider = crdb.New("permanent provider error")
	// ErrSchemaValidation marks model output or input records that failed validation
	ErrSchemaValidation = crdb.New("schema validation error")
	// ErrCacheUnavailable marks cache persistence failures; never run-fatal
	ErrCacheUnavailable = crdb.New("cache unavailable")
	// ErrDelivery marks a failed digest handoff; run-fatal
	ErrDelivery = crdb.New("delivery failed")
	// ErrFailureThreshold marks a run whose per-article failure ratio was exceeded
	ErrFailureThreshold = crdb.New("failure threshold exceeded")
)

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return crdb.Mark(err, ErrTransientProvider)
}

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return crdb.Mark(err, ErrPermanentProvider)
}

// IsTransient reports whether err is marked retryable
func IsTransient(err error) bool {
	return err != nil && crdb.Is(err, ErrTransientProvider)
}

// IsPermanent reports whether err is marked non-retryable
func IsPermanent(err error) bool {
	return err != nil && crdb.Is(err, ErrPermanentProvider)
}

// Reason returns a short, stable label for failure accounting
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case crdb.IsAny(err, context.Canceled, context.DeadlineExceeded) && !crdb.Is(err, ErrTransientProvider):
		return "canceled"
	case crdb.Is(err, ErrTransientProvider):
		return "transient"
	case crdb.Is(err, ErrPermanentProvider):
		return "permanent"
	case crdb.Is(err, ErrSchemaValidation):
		return "schema"
	case crdb.Is(err, ErrCacheUnavailable):
		return "cache"
	case crdb.Is(err, ErrDelivery):
		return "delivery"
	default:
		return "other"
	}
}
