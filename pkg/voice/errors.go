package voice

import "fmt"

// ErrorKind classifies engine errors by how the session should react.
type ErrorKind string

const (
	// KindFatal aborts session start: mic permission denied, remote dial failure.
	KindFatal ErrorKind = "fatal"
	// KindDegraded ends the active connection but keeps persisted state intact.
	KindDegraded ErrorKind = "degraded"
	// KindBestEffort is logged and never blocks the conversation
	// (audio upload failures, progress updates).
	KindBestEffort ErrorKind = "best_effort"
)

// Error is a classified engine error.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error { return e.Err }

// Fatal returns true for errors that must abort session start.
func (e *Error) Fatal() bool { return e.Kind == KindFatal }

// NewFatalError creates a session-aborting error.
func NewFatalError(op, message string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Message: message, Err: err}
}

// NewDegradedError creates a connection-ending, non-corrupting error.
func NewDegradedError(op, message string, err error) *Error {
	return &Error{Kind: KindDegraded, Op: op, Message: message, Err: err}
}

// NewBestEffortError creates an error that is logged and otherwise ignored.
func NewBestEffortError(op, message string, err error) *Error {
	return &Error{Kind: KindBestEffort, Op: op, Message: message, Err: err}
}
