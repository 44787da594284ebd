package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// CallFrame: Execution state for a compiled code invocation
// ---------------------------------------------------------------------------

// CallFrame is the execution state of one compiled code invocation.
type CallFrame struct {
	Exec   Value   // the executable being run
	Module Value   // the module the method was found in
	Self   Value   // the receiver
	Locals []Value // arguments first, then temporaries
	IP     int     // offset of the current instruction

	code *CompiledCode
	is   *InstructionSet
	args *Arguments
	base int // operand stack height at entry

	result Value
	err    error
}

// Code returns the compiled code being run.
func (f *CallFrame) Code() *CompiledCode { return f.code }

func (f *CallFrame) width() int { return f.is.Width(Opcode(f.code.Bytecode[f.IP])) }

func (f *CallFrame) u8(off int) int {
	return int(f.code.Bytecode[f.IP+off])
}

func (f *CallFrame) u16(off int) int {
	return int(binary.LittleEndian.Uint16(f.code.Bytecode[f.IP+off:]))
}

func (f *CallFrame) i32(off int) int64 {
	return int64(int32(binary.LittleEndian.Uint32(f.code.Bytecode[f.IP+off:])))
}

// next is the offset of the instruction following the current one.
func (f *CallFrame) next() int { return f.IP + f.width() }

// fail ends the frame with err.
func (f *CallFrame) fail(err error) int {
	f.err = err
	return -1
}

// ---------------------------------------------------------------------------
// ThreadedDispatcher
// ---------------------------------------------------------------------------

var (
	// ErrInvalidOpcode is returned when the instruction set has no handler
	// for an opcode.
	ErrInvalidOpcode = errors.New("vm: invalid opcode")

	// ErrIPOutOfRange is returned when control leaves the bytecode without
	// returning.
	ErrIPOutOfRange = errors.New("vm: instruction pointer out of range")
)

// run executes compiled code in a new frame.
func (t *Thread) run(exec Value, code *CompiledCode, mod Value, args *Arguments) (result Value, err error) {
	if len(t.frames) >= t.vm.maxDepth {
		return Nil, NewException(ClassSystemStackError, "stack level too deep (%d frames)", len(t.frames))
	}
	if args.Total() != code.Arity {
		return Nil, NewException(ClassArgumentError, "%s: wrong number of arguments (given %d, expected %d)",
			code.Name, args.Total(), code.Arity)
	}

	is := code.Instructions
	if is == nil {
		is = t.vm.instructions
	}
	f := &CallFrame{
		Exec:   exec,
		Module: mod,
		Self:   args.Receiver(),
		Locals: make([]Value, code.Locals),
		code:   code,
		is:     is,
		args:   args,
		base:   t.sp,
		result: Nil,
	}
	for i := range f.Locals {
		f.Locals[i] = Nil
	}
	copy(f.Locals, args.slots[1:])

	t.frames = append(t.frames, f)
	defer func() {
		t.frames[len(t.frames)-1] = nil
		t.frames = t.frames[:len(t.frames)-1]
		t.sp = f.base
	}()
	defer func() {
		if r := recover(); r != nil {
			switch r := r.(type) {
			case error:
				result = Nil
				err = pkgerrors.Wrapf(r, "recovered in %s @ip=%d/%d, stack %d", code.Name, f.IP, len(code.Bytecode), t.sp-f.base)
			default:
				panic(r)
			}
		}
	}()

	return t.dispatch(f)
}

// dispatch is the instruction loop. Each handler returns the offset of the
// next instruction and the loop indexes the jump table with the opcode
// found there, so control passes from handler to handler without growing
// the Go stack.
func (t *Thread) dispatch(f *CallFrame) (Value, error) {
	bc := f.code.Bytecode
	for {
		if f.IP < 0 || f.IP >= len(bc) {
			return Nil, fmt.Errorf("%w: %s @ip=%d/%d", ErrIPOutOfRange, f.code.Name, f.IP, len(bc))
		}
		in := f.is.table[bc[f.IP]]
		if in == nil || in.Handler == nil {
			return Nil, fmt.Errorf("%w %#02x in %s @ip=%d", ErrInvalidOpcode, bc[f.IP], f.code.Name, f.IP)
		}
		next := in.Handler(t, f)
		if next < 0 {
			return f.result, f.err
		}
		f.IP = next
	}
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func opNoop(t *Thread, f *CallFrame) int { return f.next() }

func opPop(t *Thread, f *CallFrame) int {
	t.pop()
	return f.next()
}

func opDup(t *Thread, f *CallFrame) int {
	t.push(t.top())
	return f.next()
}

func opPushNil(t *Thread, f *CallFrame) int {
	t.push(Nil)
	return f.next()
}

func opPushTrue(t *Thread, f *CallFrame) int {
	t.push(True)
	return f.next()
}

func opPushFalse(t *Thread, f *CallFrame) int {
	t.push(False)
	return f.next()
}

func opPushSelf(t *Thread, f *CallFrame) int {
	t.push(f.Self)
	return f.next()
}

func opPushInt(t *Thread, f *CallFrame) int {
	t.push(FromSmallInt(f.i32(1)))
	return f.next()
}

func opPushLiteral(t *Thread, f *CallFrame) int {
	v, err := t.vm.literal(f.Exec, f.u16(1))
	if err != nil {
		return f.fail(err)
	}
	t.push(v)
	return f.next()
}

func opPushLocal(t *Thread, f *CallFrame) int {
	t.push(f.Locals[f.u8(1)])
	return f.next()
}

func opSetLocal(t *Thread, f *CallFrame) int {
	f.Locals[f.u8(1)] = t.top()
	return f.next()
}

func opMakeArray(t *Thread, f *CallFrame) int {
	elems := t.popN(f.u8(1))
	arr, err := t.vm.NewArray(elems...)
	if err != nil {
		return f.fail(err)
	}
	t.push(arr)
	return f.next()
}

func opSend(t *Thread, f *CallFrame) int {
	name, err := t.vm.literal(f.Exec, f.u16(1))
	if err != nil {
		return f.fail(err)
	}
	if !name.IsSymbol() {
		return f.fail(TypeError("send: literal %d is not a symbol", f.u16(1)))
	}
	argv := t.popN(f.u8(3))
	recv := t.pop()

	result, err := t.send(NewArguments(name, recv, argv...))
	if err != nil {
		return f.fail(err)
	}
	t.push(result)
	return f.next()
}

func opCallUnit(t *Thread, f *CallFrame) int {
	unit, err := t.vm.literal(f.Exec, f.u16(1))
	if err != nil {
		return f.fail(err)
	}
	argv := t.popN(f.u8(3))
	recv := t.pop()

	result, err := t.ExecuteUnit(unit, f.Exec, f.Module, NewArguments(Nil, recv, argv...))
	if err != nil {
		return f.fail(err)
	}
	t.push(result)
	return f.next()
}

func opGoto(t *Thread, f *CallFrame) int {
	return f.u16(1)
}

func opGotoIfFalse(t *Thread, f *CallFrame) int {
	if !t.pop().IsTruthy() {
		return f.u16(1)
	}
	return f.next()
}

func opGotoIfTrue(t *Thread, f *CallFrame) int {
	if t.pop().IsTruthy() {
		return f.u16(1)
	}
	return f.next()
}

func opRet(t *Thread, f *CallFrame) int {
	f.result = t.pop()
	return -1
}

// opCastMultiValue converts the top of the stack to an array. It is always
// followed by run_exception: on success the exception handler is skipped,
// on failure the exception is parked and control falls through to it.
func opCastMultiValue(t *Thread, f *CallFrame) int {
	cast, err := t.castArray()
	if err != nil {
		t.pending = err
		return f.next()
	}
	t.stack[t.sp-1] = cast
	return f.next() + f.is.Width(OpRunException)
}

func opRunException(t *Thread, f *CallFrame) int {
	err := t.pending
	if err == nil {
		return f.fail(ErrNoPendingException)
	}
	t.pending = nil
	return f.fail(err)
}

func opCheckpoint(t *Thread, f *CallFrame) int {
	if err := t.Checkpoint(); err != nil {
		return f.fail(err)
	}
	return f.next()
}

// castArray converts the top of the stack for multiple assignment: arrays
// are kept, nil becomes an empty array, objects answering to_ary are
// converted with it and anything else is wrapped in a one-element array.
// The value stays on the stack so a collection during to_ary updates it.
func (t *Thread) castArray() (Value, error) {
	v := t.top()
	switch {
	case t.vm.IsArray(v):
		return v, nil
	case v == Nil:
		return t.vm.NewArray()
	case t.vm.RespondsTo(v, "to_ary"):
		res, err := t.send(NewArguments(t.vm.Symbol("to_ary"), v))
		if err != nil {
			return Nil, err
		}
		v = t.top()
		if t.vm.IsArray(res) {
			return res, nil
		}
		if res == Nil {
			return t.vm.NewArray(v)
		}
		return Nil, TypeError("can't convert %s to Array (%s#to_ary gives %s)",
			t.vm.ModuleName(t.vm.ClassOf(v)), t.vm.ModuleName(t.vm.ClassOf(v)),
			t.vm.ModuleName(t.vm.ClassOf(res)))
	default:
		return t.vm.NewArray(v)
	}
}
