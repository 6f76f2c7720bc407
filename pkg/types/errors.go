package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every failure returned by the service
// layer wraps exactly one of the sentinels below.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
	ErrMismatch          = errors.New("mismatch")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Refinements of the kinds above. errors.Is matches both the refinement and
// its parent kind.
var (
	ErrContentConflict     = fmt.Errorf("%w: location already has content for this resource", ErrConflict)
	ErrQuotaExceeded       = fmt.Errorf("%w: resource quota exceeded", ErrConflict)
	ErrTypeMismatch        = fmt.Errorf("%w: resource type", ErrMismatch)
	ErrIDMismatch          = fmt.Errorf("%w: resource id", ErrMismatch)
	ErrUnknownResourceType = fmt.Errorf("%w: unknown resource type", ErrValidation)
	ErrInvalidFilter       = fmt.Errorf("%w: invalid filter", ErrValidation)
)

// Kind is the stable, machine-readable name of an error kind.
type Kind string

// Stable error kinds.
const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInvalidState      Kind = "invalid_state"
	KindValidation        Kind = "validation_error"
	KindMismatch          Kind = "mismatch"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindInternal          Kind = "internal"
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrConflict, KindConflict},
	{ErrInvalidState, KindInvalidState},
	{ErrValidation, KindValidation},
	{ErrMismatch, KindMismatch},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
}

// KindOf reports the kind of err. Errors that wrap none of the sentinels are
// KindInternal; a nil error has an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
