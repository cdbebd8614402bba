package auth

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the stable machine-readable class of an error returned by the service.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountInactive    Kind = "account_inactive"
	KindEmailUnverified    Kind = "email_unverified"
	KindAccessDenied       Kind = "access_denied"
	KindNotFound           Kind = "not_found"
	KindTokenExpired       Kind = "token_expired"
	KindTokenRevoked       Kind = "token_revoked"
	KindTokenMalformed     Kind = "token_malformed"
	KindRateLimited        Kind = "rate_limited"
	KindConflict           Kind = "conflict"
	KindDependencyFailure  Kind = "dependency_failure"
	KindInternal           Kind = "internal"
)

// Error carries a Kind plus a message that is safe to show to the caller.
// Err holds the underlying cause and is never rendered to clients.
type Error struct {
	Kind       Kind
	Message    string
	Fields     map[string]string
	RetryAfter time.Duration
	// Action hints the client at the next step, e.g. "signin" or "use_staff_portal".
	Action string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Store level sentinels.
var (
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict       = &Error{Kind: KindConflict, Message: "already exists"}
	ErrTokenExpired   = &Error{Kind: KindTokenExpired, Message: "token has expired"}
	ErrTokenRevoked   = &Error{Kind: KindTokenRevoked, Message: "token has been revoked"}
	ErrTokenMalformed = &Error{Kind: KindTokenMalformed, Message: "token is malformed"}
	ErrAccessDenied   = &Error{Kind: KindAccessDenied, Message: "you do not have permission to perform this action"}
)

// ErrInvalidCredentials is deliberately generic so it never reveals whether an email is registered.
var ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "invalid input", Fields: fields}
}

func fieldError(field, msg string) *Error {
	return validationError(map[string]string{field: msg})
}

func accessDenied(msg string) *Error {
	return &Error{Kind: KindAccessDenied, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

func dependencyFailure(msg string, err error) *Error {
	return &Error{Kind: KindDependencyFailure, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// wrapInternal passes taxonomy errors through and wraps anything else as internal.
func wrapInternal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return internal(err)
}
