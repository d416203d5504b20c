package hierarchy

import (
	"errors"
	"fmt"
)

// Kind classifies why a hierarchy operation was rejected.
type Kind string

const (
	KindSelfReference           Kind = "self_reference"
	KindNotFound                Kind = "not_found"
	KindAlreadyHasParent        Kind = "already_has_parent"
	KindNoParent                Kind = "no_parent"
	KindDifferentSection        Kind = "different_section"
	KindCycleDetected           Kind = "cycle_detected"
	KindMaxDepthExceeded        Kind = "max_depth_exceeded"
	KindCompositionInvalid      Kind = "composition_invalid"
	KindParentEnvelopeViolation Kind = "parent_envelope_violation"
	KindDataIntegrity           Kind = "data_integrity"
	// KindInternal is never produced here; hosts use it to report storage
	// failures in the same shape.
	KindInternal Kind = "internal"
)

// Error is the typed failure returned by every hierarchy operation.
type Error struct {
	Kind    Kind           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches on Kind so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrSelfReference           = &Error{Kind: KindSelfReference}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrAlreadyHasParent        = &Error{Kind: KindAlreadyHasParent}
	ErrNoParent                = &Error{Kind: KindNoParent}
	ErrDifferentSection        = &Error{Kind: KindDifferentSection}
	ErrCycleDetected           = &Error{Kind: KindCycleDetected}
	ErrMaxDepthExceeded        = &Error{Kind: KindMaxDepthExceeded}
	ErrCompositionInvalid      = &Error{Kind: KindCompositionInvalid}
	ErrParentEnvelopeViolation = &Error{Kind: KindParentEnvelopeViolation}
	ErrDataIntegrity           = &Error{Kind: KindDataIntegrity}
)

func newError(kind Kind, details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

func notFound(id string) *Error {
	return newError(KindNotFound, map[string]any{"item_id": id}, "item %s not found", id)
}

// ItemNotFound is the error every operation returns for an unknown item id.
func ItemNotFound(id string) *Error {
	return notFound(id)
}

// AsError extracts the hierarchy error from err, if any.
func AsError(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" when err is not a hierarchy error.
func KindOf(err error) Kind {
	if he, ok := AsError(err); ok {
		return he.Kind
	}
	return ""
}
