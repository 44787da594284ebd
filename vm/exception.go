package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Exception class names raised by the VM itself.
const (
	ClassTypeError        = "TypeError"
	ClassNoMethodError    = "NoMethodError"
	ClassArgumentError    = "ArgumentError"
	ClassSystemStackError = "SystemStackError"
	ClassRuntimeError     = "RuntimeError"
)

// Exception is a language-level exception carried as a Go error. Execution
// paths return it like any other error; the dispatcher parks it as the
// thread's pending exception until run_exception raises it.
type Exception struct {
	Class   string // exception class name
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Is matches exceptions by class, so errors.Is(err, &Exception{Class: ...})
// works for callers that only care about the kind.
func (e *Exception) Is(target error) bool {
	t, ok := target.(*Exception)
	if !ok {
		return false
	}
	return t.Class == e.Class && (t.Message == "" || t.Message == e.Message)
}

// NewException creates an exception of the named class.
func NewException(class, format string, args ...any) *Exception {
	return &Exception{Class: class, Message: fmt.Sprintf(format, args...)}
}

// TypeError creates a TypeError.
func TypeError(format string, args ...any) *Exception {
	return NewException(ClassTypeError, format, args...)
}

// IsException reports whether err carries a language exception of the
// named class.
func IsException(err error, class string) bool {
	var e *Exception
	return errors.As(err, &e) && e.Class == class
}

// ErrNoPendingException is returned by run_exception when no exception is
// pending on the thread.
var ErrNoPendingException = errors.New("vm: run_exception without a pending exception")
