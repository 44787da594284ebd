package vm

// ---------------------------------------------------------------------------
// Array Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerArrayPrimitives() error {
	c := vm.classes.Array

	prims := []struct {
		name string
		fn   Executor
	}{
		{"size", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			return FromSmallInt(int64(t.vm.ArraySize(args.Receiver()))), nil
		}},
		{"to_ary", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			return args.Receiver(), nil
		}},
		{"[]", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			idx := args.At(0)
			if !idx.IsSmallInt() {
				return Nil, TypeError("no implicit conversion of %v into Integer", idx)
			}
			obj := t.vm.mm.Deref(args.Receiver())
			i := int(idx.SmallInt())
			if i < 0 {
				i += len(obj.Fields)
			}
			return obj.Field(i), nil
		}},
		{"<<", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			obj := t.vm.mm.Deref(args.Receiver())
			if _, err := t.vm.mm.AppendField(obj, args.At(0)); err != nil {
				return Nil, err
			}
			return args.Receiver(), nil
		}},
	}
	for _, p := range prims {
		if err := vm.DefinePrimitive(c, p.name, p.fn); err != nil {
			return err
		}
	}
	return nil
}
