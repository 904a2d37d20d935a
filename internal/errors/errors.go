// Package errors carries error context through the optimization service.
// An Error records which component and operation failed alongside the
// underlying cause and a trimmed stack trace.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is an error annotated with service context.
type Error struct {
	// Err is the wrapped cause, nil for errors created with New.
	Err error
	// Message describes the failure in service terms.
	Message string
	// Operation names the action that failed, e.g. "run 42".
	Operation string
	// Component names the package or subsystem that failed.
	Component string
	// Stack holds the capture-site stack trace.
	Stack []string
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Operation != "" {
		parts = append(parts, "operation="+e.Operation)
	}
	if e.Component != "" {
		parts = append(parts, "component="+e.Component)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the wrapped cause so errors.Is and errors.As from the
// standard library see through the annotation.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation records the operation that failed.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent records the component that failed.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack captured when the error was created.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates an Error with a message and the current stack.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: capture()}
}

// Errorf creates an Error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: capture()}
}

// Wrap annotates err with a message. Wrapping nil returns nil. Wrapping
// an *Error updates it in place rather than stacking annotations.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		e = &Error{Err: err, Stack: capture()}
	}
	if msg != "" {
		e.Message = msg
	}
	return e
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// capture records the caller stack, skipping runtime frames and this
// package's own constructors.
func capture() []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") &&
			!strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			return stack
		}
	}
}
