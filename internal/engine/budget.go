package engine

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultFaultBudget is the number of fatal call-in errors a handle may
// raise before the engine disables it.
const DefaultFaultBudget = 10

// FaultBudget counts the fatal errors of one loaded handle. The handle is
// disabled on the fatal error that reaches the limit.
//
// Non-fatal call-in errors (plain Lua errors) are logged and recorded but
// never charged; only fatal ones (errors raised by engine functions with
// script.Fatalf, or Go panics inside the VM) are. Both halves of a handle
// share one budget.
//
// Thread-safety: safe for concurrent use; in threaded mode the synced and
// unsynced halves fault on different goroutines.
type FaultBudget struct {
	mu      sync.Mutex
	limit   int
	current int
}

// NewFaultBudget creates a budget allowing limit fatal errors. A limit
// <= 0 never exhausts.
func NewFaultBudget(limit int) *FaultBudget {
	return &FaultBudget{limit: limit}
}

// Charge records one fatal error for handle.
//
// Returns BudgetExhaustedError when the charge reaches the limit, and on
// every later call.
func (b *FaultBudget) Charge(handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	if b.limit > 0 && b.current >= b.limit {
		return &BudgetExhaustedError{
			Handle: handle,
			Faults: b.current,
			Limit:  b.limit,
		}
	}
	return nil
}

// Reset sets the count back to 0.
func (b *FaultBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = 0
}

// Current returns the number of fatal errors charged so far.
func (b *FaultBudget) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Limit returns the budget's limit.
func (b *FaultBudget) Limit() int {
	return b.limit
}

// Remaining returns how many more fatal errors are tolerated, or -1 for an
// unlimited budget.
func (b *FaultBudget) Remaining() int {
	if b.limit <= 0 {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current >= b.limit {
		return 0
	}
	return b.limit - b.current
}

// BudgetExhaustedError is returned when a handle exceeds its fault budget.
type BudgetExhaustedError struct {
	Handle string
	Faults int
	Limit  int
}

// Error implements the error interface.
func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("handle %s exhausted its fault budget: %d fatal errors, limit %d",
		e.Handle, e.Faults, e.Limit)
}

// IsBudgetExhaustedError returns true if the error is a BudgetExhaustedError.
func IsBudgetExhaustedError(err error) bool {
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}
