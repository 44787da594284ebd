package vm

import "github.com/ebrahimk/rubinius/vm/memory"

// Value is a managed slot value. The encoding lives in the memory package
// because the collector has to tell references from immediates.
type Value = memory.Value

// Pre-defined special values
const (
	Nil   = memory.Nil
	True  = memory.True
	False = memory.False
	Undef = memory.Undef
)

// FromSmallInt creates an integer Value.
func FromSmallInt(n int64) Value { return memory.FromSmallInt(n) }

// FromFloat64 creates a float Value.
func FromFloat64(f float64) Value { return memory.FromFloat64(f) }

// FromBool creates a boolean Value.
func FromBool(b bool) Value { return memory.FromBool(b) }
