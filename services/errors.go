package services

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error. Handlers map it to an HTTP status.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidState     Kind = "invalid_state"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindDuplicateRequest Kind = "duplicate_request"
	KindValidation       Kind = "validation_error"
)

// Error is a domain failure. Two Errors match under errors.Is when their
// kind and message match, so the sentinels below can be compared directly.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a ValidationError.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

var (
	ErrQuestNotFound       = &Error{Kind: KindNotFound, Message: "quest not found"}
	ErrParticipantNotFound = &Error{Kind: KindNotFound, Message: "participant not found"}
	ErrNotHost             = &Error{Kind: KindUnauthorized, Message: "only the host can do this"}
	ErrNotVerified         = &Error{Kind: KindUnauthorized, Message: "a verified account is required"}
	ErrQuestNotOpen        = &Error{Kind: KindInvalidState, Message: "quest is not open for joining"}
	ErrQuestClosed         = &Error{Kind: KindInvalidState, Message: "quest is already completed or cancelled"}
	ErrNotPending          = &Error{Kind: KindInvalidState, Message: "participant is not pending"}
	ErrQuestFull           = &Error{Kind: KindCapacityExceeded, Message: "quest is full"}
	ErrAlreadyRequested    = &Error{Kind: KindDuplicateRequest, Message: "you already requested to join this quest"}
	ErrCannotJoinOwnQuest  = &Error{Kind: KindValidation, Message: "cannot join your own quest"}
)

// Kind matchers usable with errors.Is regardless of message.
var (
	ErrKindNotFound         = &Error{Kind: KindNotFound}
	ErrKindUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrKindInvalidState     = &Error{Kind: KindInvalidState}
	ErrKindCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrKindDuplicateRequest = &Error{Kind: KindDuplicateRequest}
	ErrKindValidation       = &Error{Kind: KindValidation}
)

// KindOf returns the kind of a domain error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
