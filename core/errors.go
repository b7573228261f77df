package core

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by enqueue operations after Close has been called on
// the queue. Use errors.Is to test for it.
var ErrClosed = errors.New("queue is closed")

// ErrExecutorStopped surfaces in a Result when the executor rejected the item
// before it could start, typically because the executor was stopped mid-batch.
var ErrExecutorStopped = errors.New("executor rejected item: stopped or shutting down")

// PanicError wraps a recovered panic from a work item's operation, preserving
// the recovered value and the stack at the point of the panic. It surfaces in
// the item's Result.Err; the consumer loop and pool workers are unaffected.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during item execution: %v", e.Value)
}

// IsPanic reports whether err wraps a PanicError.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
