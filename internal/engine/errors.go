package engine

import (
	"errors"
	"fmt"
)

// HostError represents an error detected while managing script handles.
//
// Host errors include:
//   - Load failure: a handle could not be constructed
//   - Already loaded / not loaded: the handle manager's state forbids the call
//   - Reentrant: the handle is running a call-in
//   - Fault budget: the handle exceeded its fatal error budget
type HostError struct {
	// Code identifies the error category.
	Code HostErrorCode

	// Handle names the affected handle (e.g. "LuaRules").
	Handle string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// HostErrorCode categorizes host errors.
type HostErrorCode string

const (
	// ErrCodeLoadFailed indicates handle construction failed.
	ErrCodeLoadFailed HostErrorCode = "LOAD_FAILED"

	// ErrCodeAlreadyLoaded indicates a handle of that kind is loaded.
	ErrCodeAlreadyLoaded HostErrorCode = "ALREADY_LOADED"

	// ErrCodeNotLoaded indicates no handle of that kind is loaded.
	ErrCodeNotLoaded HostErrorCode = "NOT_LOADED"

	// ErrCodeReentrant indicates the handle is inside a call-in.
	ErrCodeReentrant HostErrorCode = "REENTRANT"

	// ErrCodeFaultBudget indicates the fault budget is exhausted.
	ErrCodeFaultBudget HostErrorCode = "FAULT_BUDGET"
)

// Error implements the error interface.
func (e *HostError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("%s: %s (handle=%s)", e.Code, e.Message, e.Handle)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *HostError) Unwrap() error {
	return e.Err
}

var defaultMessages = map[HostErrorCode]string{
	ErrCodeLoadFailed:    "handle failed to load",
	ErrCodeAlreadyLoaded: "handle already loaded",
	ErrCodeNotLoaded:     "handle not loaded",
	ErrCodeReentrant:     "handle is running a call-in",
	ErrCodeFaultBudget:   "fault budget exhausted",
}

func hostError(code HostErrorCode, handle string, err error) *HostError {
	msg := defaultMessages[code]
	if err != nil {
		msg = err.Error()
	}
	return &HostError{Code: code, Handle: handle, Message: msg, Err: err}
}

func isCode(err error, code HostErrorCode) bool {
	var he *HostError
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsLoadError returns true if the error is a handle load failure.
// Uses errors.As to handle wrapped errors.
func IsLoadError(err error) bool {
	return isCode(err, ErrCodeLoadFailed)
}

// IsReentrantError returns true if the error refused a reentrant kill.
func IsReentrantError(err error) bool {
	return isCode(err, ErrCodeReentrant)
}

// IsNotLoadedError returns true if the error names a missing handle.
func IsNotLoadedError(err error) bool {
	return isCode(err, ErrCodeNotLoaded)
}

// IsBudgetError returns true if the error is a fault budget error.
// Matches both HostError with ErrCodeFaultBudget and BudgetExhaustedError.
func IsBudgetError(err error) bool {
	if isCode(err, ErrCodeFaultBudget) {
		return true
	}
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}
