package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// ErrPanic marks errors converted from a recovered panic.
var ErrPanic = errors.New("panic")

// Recovered converts a recovered panic value into an AppError for op.
// It returns nil when r is nil so it can be called unconditionally from a deferred recover.
func Recovered(op string, r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return &AppError{Op: op, Msg: "recovered panic", Err: errors.Join(ErrPanic, err)}
	}
	return &AppError{Op: op, Msg: fmt.Sprintf("recovered panic: %v", r), Err: ErrPanic}
}

// OpOf returns the operation of the outermost AppError in err's chain.
func OpOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Op
	}
	return ""
}
