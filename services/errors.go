package services

import (
	"errors"
	"fmt"
)

// Kind groups domain errors by how the request boundary reports them.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindGone
	KindInvalidState
	KindForbidden
	KindConflict
	KindValidation
)

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Code: "unauthenticated", Message: "authentication required"}
	ErrNotFound          = &Error{Kind: KindNotFound, Code: "not_found", Message: "party not found"}
	ErrGone              = &Error{Kind: KindGone, Code: "party_expired", Message: "party has expired"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Code: "invalid_state", Message: "party has already ended"}
	ErrPartyFull         = &Error{Kind: KindInvalidState, Code: "party_full", Message: "party is full"}
	ErrInvalidTransition = &Error{Kind: KindInvalidState, Code: "invalid_transition", Message: "status transition not allowed"}
	ErrForbidden         = &Error{Kind: KindForbidden, Code: "forbidden", Message: "only the host can do that"}
	ErrNotAParticipant   = &Error{Kind: KindForbidden, Code: "not_a_participant", Message: "you are not in this party"}
	ErrConflict          = &Error{Kind: KindConflict, Code: "conflict", Message: "you already have an active party"}
	ErrValidation        = &Error{Kind: KindValidation, Code: "validation_error", Message: "invalid request"}
	ErrInvalidEventType  = &Error{Kind: KindValidation, Code: "invalid_event_type", Message: "invalid event type"}
	ErrCodeExhausted     = &Error{Kind: KindInternal, Code: "code_generation_failed", Message: "could not allocate a party code"}
)

// ConflictError is returned when a host already runs a party; ExistingCode lets the
// client resume it.
type ConflictError struct {
	ExistingCode string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (code %s)", ErrConflict.Message, e.ExistingCode)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// AsError digs the domain error out of err; plain errors come back as internal.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindInternal, Code: "internal_error", Message: "internal server error"}
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
