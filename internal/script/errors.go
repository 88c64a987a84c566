package script

import (
	"errors"
	"fmt"
)

var (
	// ErrReentrant is returned by Kill and Reload while a call-in of the
	// same host is running.
	ErrReentrant = errors.New("script: host is running a call-in")

	// ErrFatal marks errors that count towards a host's fault budget.
	ErrFatal = errors.New("script: fatal engine error")

	// ErrClosed is returned when calling into a killed host.
	ErrClosed = errors.New("script: host is closed")

	// ErrNoCallIn is returned by Invoke when the function does not exist.
	ErrNoCallIn = errors.New("script: no such call-in")
)

// CallError describes a failed protected call.
type CallError struct {
	Host    string
	Func    string
	Message string
	Trace   string
	Fatal   bool
}

func (e *CallError) Error() string {
	kind := "error"
	if e.Fatal {
		kind = "fatal error"
	}
	return fmt.Sprintf("%s: %s in %s: %s", e.Host, kind, e.Func, e.Message)
}

// Unwrap exposes ErrFatal for fatal errors.
func (e *CallError) Unwrap() error {
	if e.Fatal {
		return ErrFatal
	}
	return nil
}

// IsCallError reports whether err is (or wraps) a *CallError.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// IsFatal reports whether err is a fatal call error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// fatalPanic is raised by Fatalf. gopher-lua reports non-ApiError panics
// as ApiErrorPanic, which Host classifies as fatal.
type fatalPanic struct {
	msg string
}

func (p fatalPanic) String() string { return p.msg }
