package vm

import (
	"fmt"

	"github.com/ebrahimk/rubinius/vm/memory"
)

// ---------------------------------------------------------------------------
// Executables
// ---------------------------------------------------------------------------

// Executor runs an executable. exec is the executable object itself and
// mod the module the method was found in.
type Executor func(t *Thread, exec, mod Value, args *Arguments) (Value, error)

// Primitive is the payload of an executable implemented in Go.
type Primitive struct {
	Name string
	Fn   Executor
}

// CompiledCode is the payload of a bytecode executable. Its literals are
// the fields of the executable object, so the collector sees them.
type CompiledCode struct {
	Name     string
	Bytecode []byte
	Arity    int // number of arguments copied into the first locals
	Locals   int // total local slots, arguments included

	// Instructions overrides the VM's instruction set for this code.
	Instructions *InstructionSet
}

// NewPrimitive allocates an executable in the code region that runs fn.
func (vm *VM) NewPrimitive(name string, fn Executor) (Value, error) {
	obj, err := vm.mm.AllocateCode(vm.classes.Primitive, 0, &Primitive{Name: name, Fn: fn})
	if err != nil {
		return Nil, err
	}
	return obj.Value(), nil
}

// NewCompiledCode allocates a bytecode executable in the code region.
func (vm *VM) NewCompiledCode(code *CompiledCode, literals ...Value) (Value, error) {
	if code.Locals < code.Arity {
		code.Locals = code.Arity
	}
	obj, err := vm.mm.AllocateCode(vm.classes.CompiledCode, len(literals), code)
	if err != nil {
		return Nil, err
	}
	copy(obj.Fields, literals)
	return obj.Value(), nil
}

// IsExecutable reports whether v can be run by Thread.Execute.
func (vm *VM) IsExecutable(v Value) bool {
	obj := vm.mm.Deref(v)
	if obj == nil {
		return false
	}
	switch obj.Data.(type) {
	case *Primitive, *CompiledCode:
		return true
	}
	return false
}

func (vm *VM) literal(exec Value, i int) (Value, error) {
	obj := vm.mm.Deref(exec)
	if obj == nil || i < 0 || i >= len(obj.Fields) {
		return Nil, fmt.Errorf("literal %d out of range", i)
	}
	return obj.Fields[i], nil
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// Arguments is the argument record of a call: the method name, the
// receiver and the argument values. While a call runs, its slots are
// registered as a root buffer of the calling thread.
type Arguments struct {
	name  Value
	slots []Value // receiver, then arguments
}

// NewArguments creates an argument record.
func NewArguments(name, recv Value, args ...Value) *Arguments {
	slots := make([]Value, 1+len(args))
	slots[0] = recv
	copy(slots[1:], args)
	return &Arguments{name: name, slots: slots}
}

// Name returns the name the call was made with.
func (a *Arguments) Name() Value { return a.name }

// SetName renames the call.
func (a *Arguments) SetName(name Value) { a.name = name }

// Receiver returns the receiver.
func (a *Arguments) Receiver() Value { return a.slots[0] }

// Total returns the number of arguments, not counting the receiver.
func (a *Arguments) Total() int { return len(a.slots) - 1 }

// At returns argument i, or Nil when out of range.
func (a *Arguments) At(i int) Value {
	if i < 0 || i >= a.Total() {
		return Nil
	}
	return a.slots[i+1]
}

// Values returns a copy of the arguments.
func (a *Arguments) Values() []Value {
	out := make([]Value, a.Total())
	copy(out, a.slots[1:])
	return out
}

func (a *Arguments) register(mt *memory.ManagedThread) *memory.RootBuffer {
	return mt.PushRootBuffer(a.slots)
}
