package vm

import (
	"fmt"

	"github.com/ebrahimk/rubinius/vm/memory"
)

// ---------------------------------------------------------------------------
// CallUnit: composable, precomputed call targets
// ---------------------------------------------------------------------------

// CallUnitKind selects how a call unit executes.
type CallUnitKind uint8

const (
	// ConstantValue answers a fixed value.
	ConstantValue CallUnitKind = iota
	// BoundMethod runs an executable with a fixed module under a fixed name.
	BoundMethod
	// ConditionalTest runs one of two units depending on a third.
	ConditionalTest
	// TypeTest answers whether the receiver or an argument is a kind of a
	// fixed module.
	TypeTest
)

func (k CallUnitKind) String() string {
	switch k {
	case ConstantValue:
		return "constant_value"
	case BoundMethod:
		return "method"
	case ConditionalTest:
		return "test"
	case TypeTest:
		return "kind_of"
	default:
		return fmt.Sprintf("CallUnitKind(%d)", uint8(k))
	}
}

// Call unit field layout. Unused slots hold Nil.
const (
	unitValue = iota
	unitModule
	unitExecutable
	unitName
	unitCondition
	unitThen
	unitElse
	unitFieldCount
)

// callUnitData is the untraced payload of a call unit.
type callUnitData struct {
	kind  CallUnitKind
	which int // TypeTest: -1 for the receiver, else an argument index
}

func (vm *VM) newCallUnit(kind CallUnitKind, which int, set func(fields []Value)) (Value, error) {
	obj, err := vm.mm.AllocateMature(vm.classes.CallUnit, unitFieldCount, &callUnitData{kind: kind, which: which})
	if err != nil {
		return Nil, err
	}
	set(obj.Fields)
	return obj.Value(), nil
}

// NewConstantValueUnit creates a unit that always answers v.
func (vm *VM) NewConstantValueUnit(v Value) (Value, error) {
	return vm.newCallUnit(ConstantValue, 0, func(f []Value) {
		f[unitValue] = v
	})
}

// NewMethodUnit creates a unit that runs exec with module mod, renaming
// the call to name.
func (vm *VM) NewMethodUnit(mod, exec Value, name string) (Value, error) {
	if !vm.IsExecutable(exec) {
		return Nil, TypeError("call unit executable must be executable, got %v", exec)
	}
	sym := vm.symbols.SymbolValue(name)
	return vm.newCallUnit(BoundMethod, 0, func(f []Value) {
		f[unitModule] = mod
		f[unitExecutable] = exec
		f[unitName] = sym
	})
}

// NewTestUnit creates a unit that runs cond and then either then or els.
func (vm *VM) NewTestUnit(cond, then, els Value) (Value, error) {
	for _, u := range []Value{cond, then, els} {
		if _, d := vm.callUnit(u); d == nil {
			return Nil, TypeError("test unit branches must be call units, got %v", u)
		}
	}
	return vm.newCallUnit(ConditionalTest, 0, func(f []Value) {
		f[unitCondition] = cond
		f[unitThen] = then
		f[unitElse] = els
	})
}

// NewKindOfUnit creates a unit that tests whether the receiver (which is
// -1) or argument which is a kind of mod.
func (vm *VM) NewKindOfUnit(mod Value, which int) (Value, error) {
	return vm.newCallUnit(TypeTest, which, func(f []Value) {
		f[unitValue] = mod
	})
}

func (vm *VM) callUnit(v Value) (*memory.Object, *callUnitData) {
	obj := vm.mm.Deref(v)
	if obj == nil {
		return nil, nil
	}
	d, _ := obj.Data.(*callUnitData)
	if d == nil {
		return nil, nil
	}
	return obj, d
}

// CallUnitKind returns the kind of a call unit.
func (vm *VM) CallUnitKind(unit Value) (CallUnitKind, bool) {
	_, d := vm.callUnit(unit)
	if d == nil {
		return 0, false
	}
	return d.kind, true
}

// IsCallUnit reports whether v is a call unit.
func (vm *VM) IsCallUnit(v Value) bool {
	_, d := vm.callUnit(v)
	return d != nil
}

// ExecuteUnit runs unit. exec and mod are the executable and module of
// the call site; args are the call's arguments. The unit itself is never
// modified.
func (t *Thread) ExecuteUnit(unit, exec, mod Value, args *Arguments) (Value, error) {
	obj, d := t.vm.callUnit(unit)
	if d == nil {
		return Nil, TypeError("%v is not a call unit", unit)
	}
	defer args.register(t.mt).Release()
	if t.onUnit != nil {
		t.onUnit(unit, exec, mod)
	}

	// Call units are mature, so obj stays valid across the collections a
	// nested call may run. Fields are read when needed because moves of
	// the objects they refer to rewrite them.
	switch d.kind {
	case ConstantValue:
		return obj.Field(unitValue), nil

	case BoundMethod:
		args.SetName(obj.Field(unitName))
		return t.Execute(obj.Field(unitExecutable), obj.Field(unitModule), args)

	case ConditionalTest:
		cond, err := t.ExecuteUnit(obj.Field(unitCondition), exec, mod, args)
		if err != nil {
			return Nil, err
		}
		if cond.IsTruthy() {
			return t.ExecuteUnit(obj.Field(unitThen), exec, mod, args)
		}
		return t.ExecuteUnit(obj.Field(unitElse), exec, mod, args)

	case TypeTest:
		var v Value
		switch {
		case d.which == -1:
			v = args.Receiver()
		case d.which >= 0 && d.which < args.Total():
			v = args.At(d.which)
		default:
			return False, nil
		}
		target := obj.Field(unitValue)
		if !t.vm.IsModule(target) {
			return False, nil
		}
		return FromBool(t.vm.KindOf(v, target)), nil

	default:
		return Nil, fmt.Errorf("call unit %v: unknown kind %s", unit, d.kind)
	}
}
