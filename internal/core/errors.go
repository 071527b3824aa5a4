package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/bradfitz/android-squeezer-sub002/internal/session"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitRuntime  = 1
	ExitUsage    = 2
	ExitConnect  = 3
	ExitNotFound = 4
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// ErrorForSession maps session failures to CLI exit codes.
func ErrorForSession(msg string, err error) *CLIError {
	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrSuperseded):
		return WrapError(ExitConnect, msg, err)
	case errors.Is(err, session.ErrNoPlayer):
		return WrapError(ExitNotFound, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(ExitConnect, msg, err)
	default:
		return WrapError(ExitRuntime, msg, err)
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
