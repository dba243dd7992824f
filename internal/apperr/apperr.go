// Package apperr defines the error taxonomy shared by the session log,
// the job queue and the request envelope.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeAborted marks an operation cancelled by its caller. It is not a
	// failure and is reported with its own response code.
	CodeAborted Code = "Aborted"

	// CodeValidation marks a malformed request, clause or query string.
	CodeValidation Code = "ValidationError"

	// CodeStorage marks a failure inside the embedded database.
	CodeStorage Code = "StorageError"

	// CodeTimeout marks a queued job that did not settle in time.
	CodeTimeout Code = "Timeout"

	// CodeNotFound marks a missing session, job or record.
	CodeNotFound Code = "NotFound"

	// CodeReconciliation marks duplicate open sessions or orphaned tabs.
	// These are repaired in place and only ever logged.
	CodeReconciliation Code = "ReconciliationWarning"
)

// Error is a categorized error with an optional operation name and cause.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrAborted is the canonical cancellation error.
var ErrAborted = &Error{Code: CodeAborted, Message: "operation aborted"}

// Validation returns a ValidationError with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NotFound error for the named thing.
func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Timeout returns a Timeout error for op.
func Timeout(op string) error {
	return &Error{Code: CodeTimeout, Op: op, Message: "timed out"}
}

// Storage wraps an engine failure. Cancellation passes through as Aborted
// and already-categorized errors are returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeAborted, Op: op, Message: "operation aborted", Err: err}
	}
	return &Error{Code: CodeStorage, Op: op, Err: err}
}

// CheckAbort returns an Aborted error once ctx is done. Long operations
// call it between phases.
func CheckAbort(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Code: CodeTimeout, Message: "deadline exceeded", Err: ctx.Err()}
		}
		return &Error{Code: CodeAborted, Message: "operation aborted", Err: ctx.Err()}
	default:
		return nil
	}
}

// CodeOf reports the category of err. Uncategorized errors are StorageError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeStorage
}

// IsAborted reports whether err is a cancellation.
func IsAborted(err error) bool { return CodeOf(err) == CodeAborted }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsTimeout reports whether err is a Timeout.
func IsTimeout(err error) bool { return CodeOf(err) == CodeTimeout }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }
