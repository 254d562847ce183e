// Package service implements account admission and link management.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthorized
	KindAdmissionLimit
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindAdmissionLimit:
		return "admission_limit"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is a failure whose Message is safe to show to the caller. Err, when
// set, is the underlying cause and is only for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two service errors of the same kind and message, so sentinels
// still match after being wrapped with a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// withCause returns a copy of sentinel carrying err.
func withCause(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Err: err}
}

func internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// PublicMessage returns the message that may be shown to a caller.
func PublicMessage(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Kind != KindInternal {
		return se.Message
	}
	return "internal error"
}

var (
	ErrInvalidEmail    = newError(KindValidation, "a valid email is required")
	ErrPasswordMissing = newError(KindValidation, "password is required")
	ErrPasswordLength  = newError(KindValidation, "password must be at most 72 bytes")
	ErrCodeMissing     = newError(KindValidation, "verification code is required")
	ErrEmailTaken      = newError(KindConflict, "email already in use")
	ErrAdmissionClosed = newError(KindAdmissionLimit, "registration limit reached")
	ErrEmailDelivery   = newError(KindUpstream, "failed to send verification code")

	ErrInvalidCode   = newError(KindValidation, "invalid or expired code")
	ErrCodeExpired   = newError(KindValidation, "code has expired, please register again")
	ErrNoChallenge   = newError(KindValidation, "no pending verification for this email")
	ErrTooManyTries  = newError(KindValidation, "too many incorrect attempts, please register again")
	ErrInvalidLogin  = newError(KindUnauthorized, "invalid email or password")
	ErrAccountGone   = newError(KindNotFound, "account not found")
	ErrAccountInUse  = newError(KindConflict, "cannot delete account with existing links")
	ErrNothingToSave = newError(KindValidation, "no fields to update")

	ErrOriginalURL     = newError(KindValidation, "original URL must be an absolute http(s) URL")
	ErrInvalidCodeName = newError(KindValidation, "short code may only contain letters, digits, '-' and '_' (max 64)")
	ErrReservedCode    = newError(KindValidation, "short code is reserved")
	ErrCodeTaken       = newError(KindConflict, "short code already exists")
	ErrCodeSpace       = newError(KindConflict, "no free short code available for this URL")
	ErrQuotaExceeded   = newError(KindAdmissionLimit, "link limit reached")
	ErrLinkNotFound    = newError(KindNotFound, "link not found")
	ErrNotOwner        = newError(KindUnauthorized, "unauthorized")
	ErrNoLinks         = newError(KindNotFound, "no links found to delete")
	ErrNoArchivedLinks = newError(KindNotFound, "no archived links found to delete")
)
