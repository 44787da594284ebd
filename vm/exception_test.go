package vm

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestExceptionMatching(t *testing.T) {
	err := TypeError("can't convert %s", "Foo")
	if err.Error() != "TypeError: can't convert Foo" {
		t.Errorf("Error() = %q", err.Error())
	}

	wrapped := fmt.Errorf("calling foo: %w", err)
	wrappedTwice := pkgerrors.Wrap(wrapped, "recovered")

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same class", err, &Exception{Class: ClassTypeError}, true},
		{"same class and message", err, TypeError("can't convert Foo"), true},
		{"other message", err, TypeError("other"), false},
		{"other class", err, &Exception{Class: ClassArgumentError}, false},
		{"through fmt wrap", wrapped, &Exception{Class: ClassTypeError}, true},
		{"through pkg/errors wrap", wrappedTwice, &Exception{Class: ClassTypeError}, true},
		{"plain error", errors.New("TypeError"), &Exception{Class: ClassTypeError}, false},
	}
	for _, tt := range tests {
		if got := errors.Is(tt.err, tt.target); got != tt.want {
			t.Errorf("%s: errors.Is = %v, want %v", tt.name, got, tt.want)
		}
	}

	if !IsException(wrappedTwice, ClassTypeError) || IsException(wrappedTwice, ClassNoMethodError) {
		t.Errorf("IsException does not see through wrapping")
	}
	if (&Exception{Class: ClassRuntimeError}).Error() != "RuntimeError" {
		t.Errorf("empty message not elided")
	}
}
