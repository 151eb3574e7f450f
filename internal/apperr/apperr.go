// Package apperr gives the ingestion core a small error-kind taxonomy,
// mirroring the original datacat service's runtime/errors.py DatacatError
// hierarchy, so collectors and the orchestrator can branch on "what kind of
// failure is this" (spec.md §7) instead of string-matching errors.
package apperr

import "fmt"

// Kind is one of spec.md §7's error taxonomy buckets.
type Kind string

const (
	KindRateLimited Kind = "rate_limited" // HTTP 429
	KindBanned      Kind = "banned"       // HTTP 418
	KindNotFound    Kind = "not_found"    // HTTP 404, archive absent
	KindTransient   Kind = "transient"    // network timeout/reset
	KindParse       Kind = "parse"        // row/schema mismatch
	KindStore       Kind = "store"        // persistence layer failure
	KindConfig      Kind = "config"       // configuration error
)

// Error is a datacat error carrying a Kind for dispatch plus an optional
// wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindTransient for unrecognised errors.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// As is a thin wrapper so callers don't need a separate "errors" import
// just for this package's dispatch helper.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode maps a top-level error to the process exit code spec.md §6.2
// requires (0 is the success path, handled by the caller; 130 is SIGINT,
// also handled by the caller before this is reached).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if KindOf(err) == KindConfig {
		return 1
	}
	return 1
}
