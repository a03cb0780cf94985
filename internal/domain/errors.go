package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can decide between retrying and abandoning.
type ErrorKind string

const (
	KindInvalidArgument        ErrorKind = "InvalidArgument"
	KindNotFound               ErrorKind = "NotFound"
	KindAccountClosed          ErrorKind = "AccountClosed"
	KindAccountFrozen          ErrorKind = "AccountFrozen"
	KindInsufficientFunds      ErrorKind = "InsufficientFunds"
	KindCardBlocked            ErrorKind = "CardBlocked"
	KindCardExpired            ErrorKind = "CardExpired"
	KindLimitExceeded          ErrorKind = "LimitExceeded"
	KindConflict               ErrorKind = "Conflict"
	KindInvalidStateTransition ErrorKind = "InvalidStateTransition"
	KindAborted                ErrorKind = "Aborted"
	KindInternal               ErrorKind = "Internal"
)

// Error is the structured domain error returned by every usecase.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of field or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAccountClosed          = &Error{Kind: KindAccountClosed, Message: "account is closed"}
	ErrAccountFrozen          = &Error{Kind: KindAccountFrozen, Message: "account is frozen"}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrCardBlocked            = &Error{Kind: KindCardBlocked, Message: "card is blocked"}
	ErrCardExpired            = &Error{Kind: KindCardExpired, Message: "card is expired"}
	ErrLimitExceeded          = &Error{Kind: KindLimitExceeded, Message: "limit exceeded"}
	ErrConflict               = &Error{Kind: KindConflict, Message: "conflicting request in flight"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
	ErrAborted                = &Error{Kind: KindAborted, Message: "operation aborted"}
)

func newError(kind ErrorKind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func Invalid(field, format string, args ...any) *Error {
	return newError(KindInvalidArgument, field, format, args...)
}

func NotFound(field, format string, args ...any) *Error {
	return newError(KindNotFound, field, format, args...)
}

func InsufficientFunds(field string, available, required int64) *Error {
	return newError(KindInsufficientFunds, field, "available %d, required %d", available, required)
}

func LimitExceeded(field, format string, args ...any) *Error {
	return newError(KindLimitExceeded, field, format, args...)
}

func InvalidTransition(field, format string, args ...any) *Error {
	return newError(KindInvalidStateTransition, field, format, args...)
}

func Conflict(field, format string, args ...any) *Error {
	return newError(KindConflict, field, format, args...)
}

func Aborted(field, format string, args ...any) *Error {
	return newError(KindAborted, field, format, args...)
}

// AsError extracts the domain error from err. Anything that is not a domain
// error is reported as Internal with a generic message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindInternal, Message: "internal error"}
}

// KindOf returns the kind of err, or KindInternal for non-domain errors.
func KindOf(err error) ErrorKind {
	return AsError(err).Kind
}
