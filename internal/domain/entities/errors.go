package entities

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against any *Error.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("unavailable")
	ErrUnauthenticated   = errors.New("unauthenticated")
)

// Error is a domain error carrying one of the kinds above.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports caller input that violates an invariant.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a task, tree or account missing at operation time.
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInsufficientFundsError reports a debit larger than the balance.
func NewInsufficientFundsError(amount, balance int64) *Error {
	return &Error{
		Kind:    ErrInsufficientFunds,
		Message: fmt.Sprintf("debit of %d exceeds balance of %d", amount, balance),
	}
}

// NewUnavailableError wraps a document store failure.
func NewUnavailableError(op string, err error) *Error {
	return &Error{Kind: ErrUnavailable, Message: op, Err: err}
}

// NewUnauthenticatedError reports bad credentials or an invalid token.
func NewUnauthenticatedError(message string) *Error {
	return &Error{Kind: ErrUnauthenticated, Message: message}
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
