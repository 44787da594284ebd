package vm

// ---------------------------------------------------------------------------
// Integer Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerIntegerPrimitives() error {
	c := vm.classes.Integer

	arith := map[string]func(a, b int64) (Value, error){
		"+": func(a, b int64) (Value, error) { return FromSmallInt(a + b), nil },
		"-": func(a, b int64) (Value, error) { return FromSmallInt(a - b), nil },
		"*": func(a, b int64) (Value, error) { return FromSmallInt(a * b), nil },
		"/": func(a, b int64) (Value, error) {
			if b == 0 {
				return Nil, NewException("ZeroDivisionError", "divided by 0")
			}
			return FromSmallInt(a / b), nil
		},
		"%": func(a, b int64) (Value, error) {
			if b == 0 {
				return Nil, NewException("ZeroDivisionError", "divided by 0")
			}
			return FromSmallInt(a % b), nil
		},
		"<":  func(a, b int64) (Value, error) { return FromBool(a < b), nil },
		">":  func(a, b int64) (Value, error) { return FromBool(a > b), nil },
		"<=": func(a, b int64) (Value, error) { return FromBool(a <= b), nil },
		">=": func(a, b int64) (Value, error) { return FromBool(a >= b), nil },
	}

	for name, op := range arith {
		name, op := name, op
		err := vm.DefinePrimitive(c, name, func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
			if args.Total() != 1 {
				return Nil, NewException(ClassArgumentError, "%s: wrong number of arguments (given %d, expected 1)", name, args.Total())
			}
			arg := args.At(0)
			if !arg.IsSmallInt() {
				return Nil, TypeError("%v can't be coerced into Integer", arg)
			}
			return op(args.Receiver().SmallInt(), arg.SmallInt())
		})
		if err != nil {
			return err
		}
	}

	return vm.DefinePrimitive(c, "zero?", func(t *Thread, exec, mod Value, args *Arguments) (Value, error) {
		return FromBool(args.Receiver().SmallInt() == 0), nil
	})
}
