package resolver

import (
	"github.com/cockroachdb/errors"
)

// FailureKind classifies a resolution failure. Transient failures are
// retried by the playback engine with a delay; the other kinds advance
// immediately.
type FailureKind int

const (
	FailureTransient   FailureKind = iota // network/service hiccup, worth retrying
	FailureNotFound                       // content does not exist
	FailureRestricted                     // geographically or otherwise restricted
	FailureUnavailable                    // stream permanently unavailable
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureNotFound:
		return "not_found"
	case FailureRestricted:
		return "restricted"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Sentinel errors media-lookup implementations wrap their failures with
// so the resolver can classify them.
var (
	ErrNotFound    = errors.New("content not found")
	ErrRestricted  = errors.New("content restricted")
	ErrUnavailable = errors.New("stream unavailable")
	ErrNoStream    = errors.New("metadata has no usable stream handle")
)

// ResolutionError is the typed failure returned by Resolve. It is a
// result, not control flow: callers inspect Kind to decide between
// retrying and advancing.
type ResolutionError struct {
	Kind  FailureKind
	Query string
	cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msg := "resolution failed (" + e.Kind.String() + "): " + e.Query
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ResolutionError) Unwrap() error {
	return e.cause
}

// Transient reports whether the failure is worth retrying after a delay.
func (e *ResolutionError) Transient() bool {
	return e.Kind == FailureTransient
}

// newResolutionError classifies err and wraps it.
func newResolutionError(query string, err error) *ResolutionError {
	kind := FailureTransient
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoStream):
		kind = FailureNotFound
	case errors.Is(err, ErrRestricted):
		kind = FailureRestricted
	case errors.Is(err, ErrUnavailable):
		kind = FailureUnavailable
	}
	return &ResolutionError{Kind: kind, Query: query, cause: err}
}

// AsResolutionError extracts a ResolutionError from err, if any.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
