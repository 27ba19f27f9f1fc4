// Package apperr defines the error taxonomy shared across the integration
// core. Validation, not-found and conflict failures are terminal values;
// only errors marked transient are eligible for retry.
package apperr

import "errors"

var (
	// ErrInvalidToken is returned when a link token does not match any
	// stored digest, has expired, or was already consumed.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrChatAlreadyLinked is returned when the incoming chat is bound to
	// a different account.
	ErrChatAlreadyLinked = errors.New("chat already linked to another account")

	// ErrAlreadyLinked is returned when a token is requested for an
	// account that still holds a chat binding.
	ErrAlreadyLinked = errors.New("account already linked")

	// ErrAlreadyUnlinked signals that disconnect was a no-op because the
	// account held no binding. It is a distinct outcome, not a failure.
	ErrAlreadyUnlinked = errors.New("account already unlinked")

	// ErrNotFound covers unknown accounts, tasks and tokens.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the requesting account is not
	// allowed to perform the action on the task.
	ErrUnauthorized = errors.New("not authorized for this task")

	// ErrInvalidState is returned when the task is outside the
	// active-or-overdue set.
	ErrInvalidState = errors.New("task is not in an actionable state")

	// ErrAlreadyClaimed is returned when a claim loses the assignment
	// race to another account.
	ErrAlreadyClaimed = errors.New("task already claimed")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retriable (I/O, timeout, rate limit,
// provider 5xx). Wrapping nil returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries the transient marker anywhere in
// its chain.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
