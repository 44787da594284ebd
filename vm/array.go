package vm

// NewArray allocates an array holding elems.
func (vm *VM) NewArray(elems ...Value) (Value, error) {
	obj, err := vm.mm.AllocateWith(vm.classes.Array, elems, nil)
	if err != nil {
		return Nil, err
	}
	return obj.Value(), nil
}

// IsArray reports whether v is an Array or an instance of a subclass.
func (vm *VM) IsArray(v Value) bool {
	return v.IsObject() && vm.KindOf(v, vm.classes.Array)
}

// ArrayElements returns a copy of the elements of an array, or nil if v
// is not one.
func (vm *VM) ArrayElements(v Value) []Value {
	if !vm.IsArray(v) {
		return nil
	}
	obj := vm.mm.Deref(v)
	out := make([]Value, len(obj.Fields))
	copy(out, obj.Fields)
	return out
}

// ArraySize returns the length of an array, or -1 if v is not one.
func (vm *VM) ArraySize(v Value) int {
	if !vm.IsArray(v) {
		return -1
	}
	return len(vm.mm.Deref(v).Fields)
}
