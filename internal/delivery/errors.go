package delivery

import (
	"context"
	"errors"
	"fmt"
)

// Error is a failure to transmit an answer that was already produced.
type Error struct {
	Op  string // "edit reply", "send chunk 2/3", "send voice", ...
	Err error

	// Replaced is set once the placeholder no longer shows progress: the
	// answer was edited into it, or it was deleted for chunked delivery.
	Replaced bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("deliver: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ExecutionError wraps a failure raised by the reasoning engine.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// InputError is a failure to turn an inbound message into prompt text
// (voice download, transcode or transcription). The task never starts.
type InputError struct {
	Stage string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from cancellation or a task timeout.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// FormatFailure renders the single user-visible message for a failed task.
func FormatFailure(err error) string {
	var (
		de *Error
		ee *ExecutionError
		ie *InputError
	)
	switch {
	case errors.As(err, &ie):
		return "❌ Voice note error: " + ie.Err.Error()
	case errors.As(err, &de):
		return fmt.Sprintf("❌ Error: the answer was generated but could not be delivered in full (%s: %v)", de.Op, de.Err)
	case errors.As(err, &ee):
		return "❌ Error: " + ee.Err.Error()
	default:
		return "❌ Error: " + err.Error()
	}
}
