// Package vm - execution faults and the exceptions they raise.
package vm

import (
	"errors"
	"fmt"

	"github.com/bali-nebula/bvm/pkg/elements"
)

// The exception symbols raised by the processor itself. Anything else on the
// exception path originates in procedure code or an intrinsic.
const (
	// InvalidBytecode is raised when an undefined instruction is fetched or
	// an operand is out of range for its table.
	InvalidBytecode = elements.Symbol("invalidBytecode")

	// StackUnderflow is raised when a value is popped from an empty
	// component or handler stack.
	StackUnderflow = elements.Symbol("stackUnderflow")

	// NotAReference is raised when a LOAD or STORE DOCUMENT instruction
	// indexes a variable that does not hold a citation.
	NotAReference = elements.Symbol("notAReference")

	// RepositoryFailure is raised when a repository call fails.
	RepositoryFailure = elements.Symbol("repositoryFailure")
)

// ErrNoTask is returned by Step and Run when the processor has no imported
// task to execute.
var ErrNoTask = errors.New("vm: no task to execute")

// fault is the internal error type handlers return to raise an exception in
// the running task. The processor converts a fault into a HANDLE EXCEPTION
// unwind rather than propagating it to the caller.
type fault struct {
	exception elements.Value
	cause     error
}

// Error implements the error interface.
func (f *fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("vm: %s: %v", f.exception.Format(), f.cause)
	}
	return "vm: " + f.exception.Format()
}

// Unwrap exposes the underlying cause, if any.
func (f *fault) Unwrap() error { return f.cause }

// raise creates a fault carrying an exception symbol.
func raise(symbol elements.Symbol) error {
	return &fault{exception: symbol}
}

// raisedBy creates a fault carrying an exception symbol and its cause.
func raisedBy(symbol elements.Symbol, cause error) error {
	return &fault{exception: symbol, cause: cause}
}
