package vm

import (
	"fmt"
	"sync"

	"github.com/ebrahimk/rubinius/vm/memory"
)

// ---------------------------------------------------------------------------
// Modules and classes
// ---------------------------------------------------------------------------

// Module field layout. Modules are mature objects and never move.
const (
	moduleName       = iota // symbol
	moduleSuperclass        // class value or Nil
	moduleMethods           // method table object
	moduleFieldCount
)

// moduleData is the untraced payload of a module object.
type moduleData struct {
	name    string
	isClass bool
}

// methodIndex maps method names to field indices of a method table. The
// executables themselves live in the table's fields so the collector
// traces them.
type methodIndex struct {
	mu    sync.RWMutex
	index map[uint32]int
}

// newModule allocates a module object with an empty method table. class
// is the module's own class and may be Nil during bootstrap.
func (vm *VM) newModule(class Value, name string, superclass Value, isClass bool) (Value, error) {
	mt, err := vm.mm.AllocateMature(vm.classes.MethodTable, 0, &methodIndex{index: make(map[uint32]int)})
	if err != nil {
		return Nil, err
	}
	mod, err := vm.mm.AllocateMature(class, moduleFieldCount, &moduleData{name: name, isClass: isClass})
	if err != nil {
		return Nil, err
	}
	mod.Fields[moduleName] = vm.symbols.SymbolValue(name)
	mod.Fields[moduleSuperclass] = superclass
	mod.Fields[moduleMethods] = mt.Value()
	return mod.Value(), nil
}

func (vm *VM) module(v Value) (*memory.Object, *moduleData) {
	obj := vm.mm.Deref(v)
	if obj == nil {
		return nil, nil
	}
	md, ok := obj.Data.(*moduleData)
	if !ok {
		return nil, nil
	}
	return obj, md
}

// IsModule reports whether v is a module or class.
func (vm *VM) IsModule(v Value) bool {
	_, md := vm.module(v)
	return md != nil
}

// IsClass reports whether v is a class.
func (vm *VM) IsClass(v Value) bool {
	_, md := vm.module(v)
	return md != nil && md.isClass
}

// ModuleName returns the name of a module, or "" if v is not one.
func (vm *VM) ModuleName(v Value) string {
	_, md := vm.module(v)
	if md == nil {
		return ""
	}
	return md.name
}

// Superclass returns the superclass of a class, or Nil.
func (vm *VM) Superclass(v Value) Value {
	obj, md := vm.module(v)
	if md == nil {
		return Nil
	}
	return obj.Field(moduleSuperclass)
}

// DefineClass creates a class and binds it as a constant. A Nil
// superclass selects Object.
func (vm *VM) DefineClass(name string, superclass Value) (Value, error) {
	if superclass == Nil {
		superclass = vm.classes.Object
	}
	if !vm.IsClass(superclass) {
		return Nil, TypeError("superclass of %s must be a class, got %v", name, superclass)
	}
	cls, err := vm.newModule(vm.classes.Class, name, superclass, true)
	if err != nil {
		return Nil, err
	}
	vm.SetConstant(name, cls)
	return cls, nil
}

// DefineModule creates a module and binds it as a constant.
func (vm *VM) DefineModule(name string) (Value, error) {
	mod, err := vm.newModule(vm.classes.Module, name, Nil, false)
	if err != nil {
		return Nil, err
	}
	vm.SetConstant(name, mod)
	return mod, nil
}

// DefineMethod installs exec as method name of mod, replacing any
// existing definition.
func (vm *VM) DefineMethod(mod Value, name string, exec Value) error {
	obj, md := vm.module(mod)
	if md == nil {
		return TypeError("%v is not a module", mod)
	}
	if !vm.IsExecutable(exec) {
		return TypeError("%v is not executable", exec)
	}
	mt := vm.mm.Deref(obj.Field(moduleMethods))
	idx := mt.Data.(*methodIndex)
	id := vm.symbols.Intern(name)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if i, ok := idx.index[id]; ok {
		mt.Fields[i] = exec
		return nil
	}
	i, err := vm.mm.AppendField(mt, exec)
	if err != nil {
		return fmt.Errorf("define %s#%s: %w", md.name, name, err)
	}
	idx.index[id] = i
	return nil
}

// DefinePrimitive wraps fn in an executable and installs it on mod.
func (vm *VM) DefinePrimitive(mod Value, name string, fn Executor) error {
	exec, err := vm.NewPrimitive(name, fn)
	if err != nil {
		return err
	}
	return vm.DefineMethod(mod, name, exec)
}

// LookupMethod finds method name along the superclass chain starting at
// mod. It returns the executable and the module that defines it.
func (vm *VM) LookupMethod(mod Value, name uint32) (exec, owner Value, ok bool) {
	for m := mod; m != Nil; m = vm.Superclass(m) {
		obj, md := vm.module(m)
		if md == nil {
			return Nil, Nil, false
		}
		mt := vm.mm.Deref(obj.Field(moduleMethods))
		idx := mt.Data.(*methodIndex)

		idx.mu.RLock()
		i, found := idx.index[name]
		if found {
			exec = mt.Fields[i]
		}
		idx.mu.RUnlock()
		if found {
			return exec, m, true
		}
	}
	return Nil, Nil, false
}

// ClassOf returns the class of any value.
func (vm *VM) ClassOf(v Value) Value {
	switch {
	case v == Nil:
		return vm.classes.NilClass
	case v == True:
		return vm.classes.TrueClass
	case v == False:
		return vm.classes.FalseClass
	case v.IsSmallInt():
		return vm.classes.Integer
	case v.IsSymbol():
		return vm.classes.Symbol
	case v.IsObject():
		if obj := vm.mm.Deref(v); obj != nil {
			return obj.Class
		}
		return Nil
	case v.IsFloat():
		return vm.classes.Float
	default:
		return Nil
	}
}

// KindOf reports whether v's class is mod or inherits from it.
func (vm *VM) KindOf(v, mod Value) bool {
	for c := vm.ClassOf(v); c != Nil; c = vm.Superclass(c) {
		if c == mod {
			return true
		}
	}
	return false
}

// RespondsTo reports whether v understands name.
func (vm *VM) RespondsTo(v Value, name string) bool {
	id, ok := vm.symbols.Lookup(name)
	if !ok {
		return false
	}
	_, _, found := vm.LookupMethod(vm.ClassOf(v), id)
	return found
}
