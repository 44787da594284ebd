package vm

// ---------------------------------------------------------------------------
// Object Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerPrimitives() error {
	for _, register := range []func() error{
		vm.registerObjectPrimitives,
		vm.registerIntegerPrimitives,
		vm.registerArrayPrimitives,
	} {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) registerObjectPrimitives() error {
	c := vm.classes.Object

	prims := []struct {
		name string
		fn   Executor
	}{
		{"==", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			return FromBool(args.Receiver() == args.At(0)), nil
		}},
		{"class", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			return t.vm.ClassOf(args.Receiver()), nil
		}},
		{"nil?", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			return FromBool(args.Receiver() == Nil), nil
		}},
		{"kind_of?", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			target := args.At(0)
			if !t.vm.IsModule(target) {
				return Nil, TypeError("class or module required")
			}
			return FromBool(t.vm.KindOf(args.Receiver(), target)), nil
		}},
		{"respond_to?", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			name := t.vm.symbols.SymbolName(args.At(0))
			return FromBool(name != "" && t.vm.RespondsTo(args.Receiver(), name)), nil
		}},
	}
	for _, p := range prims {
		if err := vm.DefinePrimitive(c, p.name, p.fn); err != nil {
			return err
		}
	}
	return nil
}
