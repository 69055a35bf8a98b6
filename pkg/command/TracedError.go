package command

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// TracedError wraps a failure with flags that record whether it was logged and shown
// to the user. Each action is done at most once per error instance.
type TracedError struct {
	// Command that failed, if known
	Command string
	err     error
	logged  atomic.Bool
	shown   atomic.Bool
}

func (e *TracedError) Error() string {
	if e.Command == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Command, e.err)
}

func (e *TracedError) Unwrap() error { return e.err }

// Logged returns true if the error was logged
func (e *TracedError) Logged() bool { return e.logged.Load() }

// Shown returns true if the error was shown to the user
func (e *TracedError) Shown() bool { return e.shown.Load() }

// MarkLogged sets the logged flag and returns true if it was not set before
func (e *TracedError) MarkLogged() bool { return e.logged.CompareAndSwap(false, true) }

// MarkShown sets the shown flag and returns true if it was not set before
func (e *TracedError) MarkShown() bool { return e.shown.CompareAndSwap(false, true) }

// Trace wraps the error in a TracedError.
// If err already is or wraps a TracedError then that instance is returned.
//  err to wrap. nil returns nil.
//  commandName is recorded if the error is newly wrapped
func Trace(err error, commandName string) *TracedError {
	if err == nil {
		return nil
	}
	var traced *TracedError
	if errors.As(err, &traced) {
		return traced
	}
	return &TracedError{Command: commandName, err: err}
}

// ErrorHandler logs and shows errors, each at most once per error instance
type ErrorHandler struct {
	// ShowErrorHook presents the error to the user. nil to only log.
	ShowErrorHook func(err *TracedError)
}

// Handle logs and shows the error if that was not already done.
// Returns the traced error, or nil if err is nil.
func (handler *ErrorHandler) Handle(err error) *TracedError {
	traced := Trace(err, "")
	if traced == nil {
		return nil
	}
	if traced.MarkLogged() {
		logrus.Errorf("%s", traced)
	}
	if handler.ShowErrorHook != nil && traced.MarkShown() {
		handler.ShowErrorHook(traced)
	}
	return traced
}

// NewErrorHandler creates an error handler
//  showErrorHook presents errors to the user, or nil to only log them
func NewErrorHandler(showErrorHook func(err *TracedError)) *ErrorHandler {
	return &ErrorHandler{ShowErrorHook: showErrorHook}
}
