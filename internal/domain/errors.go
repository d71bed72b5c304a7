package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// The admin handlers translate these to HTTP status codes via a single
// mapError function.
var (
	ErrJobNotFound          = errors.New("job not found")
	ErrQueueNotFound        = errors.New("queue not found")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrNotificationNotFound = errors.New("notification not found")

	ErrJobNotRetryable = errors.New("only failed jobs can be retried")
	ErrJobActive       = errors.New("cannot remove a job while it is active")

	ErrInvalidStateFilter   = errors.New("state filter must be a job state or \"all\"")
	ErrInvalidRecipientType = errors.New("recipient type must be user, academy, or role")
	ErrInvalidRecipient     = errors.New("recipient id must not be empty")
	ErrNoRolesGiven         = errors.New("role dispatch requires at least one role name")
	ErrEmptyMessage         = errors.New("title and body must not be empty")
	ErrInvalidPriority      = errors.New("priority must be high, medium, or low")
	ErrInvalidChannel       = errors.New("channel must be push, sms, email, or whatsapp")

	ErrQueueFull = errors.New("express queue is at capacity")
)

// ValidationError marks a job payload as structurally unusable.
// Workers fail such jobs terminally on the first attempt; retrying a
// malformed payload can never succeed.
type ValidationError struct {
	Queue  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Queue, e.Reason)
}

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the worker skips any remaining retry attempts.
// Handlers use it for failures that cannot be cured by re-running, such
// as a payout API rejecting the account outright.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal or is a
// validation error. Everything else is treated as transient and retried
// per the queue's backoff policy.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te) || IsValidation(err)
}
