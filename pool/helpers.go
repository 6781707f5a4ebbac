package pool

import (
	"errors"
	"fmt"
	"math"
	"runtime"
)

var (
	// ErrInvalidCapacity is returned by New when capacity is below one.
	ErrInvalidCapacity = errors.New("pool capacity must be at least 1")

	// ErrPoolStopped rejects tasks abandoned by Stop when the pool was
	// built with WithRejectOnStop.
	ErrPoolStopped = errors.New("pool stopped before task was admitted")

	// ErrTaskTimeout is returned by tasks wrapped with WithTimeout when
	// they do not finish in time.
	ErrTaskTimeout = errors.New("task timed out")
)

// PanicError is the failure recorded for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panic: %v\nstack trace:\n%s", e.Value, e.Stack)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(r any) *PanicError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: r, Stack: buf[:n]}
}

// maxPowerOfTwo is the largest power of two an int holds.
const maxPowerOfTwo = math.MaxInt/2 + 1

// nextPowerOfTwo returns the next power of 2 >= n, saturating at
// maxPowerOfTwo.
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	if n >= maxPowerOfTwo {
		return maxPowerOfTwo
	}

	if n&(n-1) == 0 {
		return n
	}

	power := 1
	for power < n {
		power *= 2
	}
	return power
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
