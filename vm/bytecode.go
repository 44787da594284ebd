package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNoop Opcode = 0x00 // no operation
	OpPop  Opcode = 0x01 // discard top of stack
	OpDup  Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpPushNil     Opcode = 0x10 // push nil
	OpPushTrue    Opcode = 0x11 // push true
	OpPushFalse   Opcode = 0x12 // push false
	OpPushSelf    Opcode = 0x13 // push self
	OpPushInt     Opcode = 0x14 // push 32-bit signed integer
	OpPushLiteral Opcode = 0x15 // push literal (16-bit index)
)

// Locals
const (
	OpPushLocal Opcode = 0x20 // push local (8-bit index)
	OpSetLocal  Opcode = 0x21 // store top into local, keep it (8-bit index)
)

// Calls
const (
	OpSend      Opcode = 0x30 // send (16-bit literal name, 8-bit argc)
	OpCallUnit  Opcode = 0x31 // run call unit (16-bit literal unit, 8-bit argc)
	OpMakeArray Opcode = 0x32 // pop N values into an array (8-bit count)
)

// Control Flow
const (
	OpGoto        Opcode = 0x40 // jump (16-bit absolute target)
	OpGotoIfFalse Opcode = 0x41 // pop, jump if nil or false
	OpGotoIfTrue  Opcode = 0x42 // pop, jump unless nil or false
	OpRet         Opcode = 0x43 // return top of stack
)

// Exceptions and safepoints
const (
	OpCastMultiValue Opcode = 0x50 // convert top to an array or fall through to run_exception
	OpRunException   Opcode = 0x51 // raise the pending exception
	OpCheckpoint     Opcode = 0x52 // safepoint
)

// ---------------------------------------------------------------------------
// InstructionSet: the jump table
// ---------------------------------------------------------------------------

// Handler executes the instruction at f.IP and returns the offset of the
// next instruction, or a negative value when the frame has finished (its
// result or error is then in the frame).
type Handler func(t *Thread, f *CallFrame) int

// Instruction describes one opcode of an instruction set.
type Instruction struct {
	Name     string
	Operands []int // operand sizes in bytes
	Width    int   // declared width in bytes, opcode included
	Handler  Handler
}

// InstructionSet maps opcodes to handlers and declared widths. Widths are
// supplied by the loader of the code; an instruction may be declared
// wider than its operands, the extra bytes are padding.
type InstructionSet struct {
	table [256]*Instruction
}

// NewInstructionSet creates an empty instruction set.
func NewInstructionSet() *InstructionSet {
	return &InstructionSet{}
}

// Define registers op. The width defaults to the opcode plus operands.
func (is *InstructionSet) Define(op Opcode, name string, h Handler, operands ...int) {
	width := 1
	for _, n := range operands {
		width += n
	}
	is.table[op] = &Instruction{Name: name, Operands: operands, Width: width, Handler: h}
}

// Lookup returns the instruction for op.
func (is *InstructionSet) Lookup(op Opcode) (*Instruction, bool) {
	in := is.table[op]
	return in, in != nil
}

// Width returns the declared width of op, or 0 if op is undefined.
func (is *InstructionSet) Width(op Opcode) int {
	if in := is.table[op]; in != nil {
		return in.Width
	}
	return 0
}

// WithWidth returns a copy of the set in which op is declared width bytes
// wide. It panics if width cannot hold the operands.
func (is *InstructionSet) WithWidth(op Opcode, width int) *InstructionSet {
	in := is.table[op]
	if in == nil {
		panic(fmt.Sprintf("WithWidth: undefined opcode %#02x", byte(op)))
	}
	need := 1
	for _, n := range in.Operands {
		need += n
	}
	if width < need {
		panic(fmt.Sprintf("WithWidth: %s needs at least %d bytes, got %d", in.Name, need, width))
	}
	cp := *is
	wider := *in
	wider.Width = width
	cp.table[op] = &wider
	return &cp
}

// Name returns the name of op, or a placeholder if undefined.
func (is *InstructionSet) Name(op Opcode) string {
	if in := is.table[op]; in != nil {
		return in.Name
	}
	return fmt.Sprintf("unknown_%02x", byte(op))
}

// DefaultInstructionSet returns the standard opcodes with their natural
// widths.
func DefaultInstructionSet() *InstructionSet {
	is := NewInstructionSet()
	is.Define(OpNoop, "noop", opNoop)
	is.Define(OpPop, "pop", opPop)
	is.Define(OpDup, "dup", opDup)

	is.Define(OpPushNil, "push_nil", opPushNil)
	is.Define(OpPushTrue, "push_true", opPushTrue)
	is.Define(OpPushFalse, "push_false", opPushFalse)
	is.Define(OpPushSelf, "push_self", opPushSelf)
	is.Define(OpPushInt, "push_int", opPushInt, 4)
	is.Define(OpPushLiteral, "push_literal", opPushLiteral, 2)

	is.Define(OpPushLocal, "push_local", opPushLocal, 1)
	is.Define(OpSetLocal, "set_local", opSetLocal, 1)

	is.Define(OpSend, "send", opSend, 2, 1)
	is.Define(OpCallUnit, "call_unit", opCallUnit, 2, 1)
	is.Define(OpMakeArray, "make_array", opMakeArray, 1)

	is.Define(OpGoto, "goto", opGoto, 2)
	is.Define(OpGotoIfFalse, "goto_if_false", opGotoIfFalse, 2)
	is.Define(OpGotoIfTrue, "goto_if_true", opGotoIfTrue, 2)
	is.Define(OpRet, "ret", opRet)

	is.Define(OpCastMultiValue, "cast_multi_value", opCastMultiValue)
	is.Define(OpRunException, "run_exception", opRunException)
	is.Define(OpCheckpoint, "checkpoint", opCheckpoint)
	return is
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder constructs bytecode laid out with the widths of an
// instruction set.
type BytecodeBuilder struct {
	is    *InstructionSet
	bytes []byte
}

// NewBytecodeBuilder creates a builder for is.
func NewBytecodeBuilder(is *InstructionSet) *BytecodeBuilder {
	return &BytecodeBuilder{is: is, bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends op with its operands, little-endian, padded to the
// declared width.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...int) *BytecodeBuilder {
	in, ok := b.is.Lookup(op)
	if !ok {
		panic(fmt.Sprintf("Emit: undefined opcode %#02x", byte(op)))
	}
	if len(operands) != len(in.Operands) {
		panic(fmt.Sprintf("Emit: %s takes %d operands, got %d", in.Name, len(in.Operands), len(operands)))
	}
	start := len(b.bytes)
	b.bytes = append(b.bytes, byte(op))
	for i, size := range in.Operands {
		b.bytes = appendOperand(b.bytes, size, operands[i])
	}
	for len(b.bytes) < start+in.Width {
		b.bytes = append(b.bytes, 0)
	}
	return b
}

func appendOperand(dst []byte, size, v int) []byte {
	switch size {
	case 1:
		return append(dst, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(v))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(v)))
	default:
		panic(fmt.Sprintf("unsupported operand size %d", size))
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int
	refs     []int // operand offsets to patch
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint16(b.bytes[ref:], uint16(label.position))
	}
	label.refs = nil
}

// EmitJump emits goto, goto_if_false or goto_if_true to label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) *BytecodeBuilder {
	if label.resolved {
		return b.Emit(op, label.position)
	}
	label.refs = append(label.refs, len(b.bytes)+1)
	return b.Emit(op, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a listing of bc decoded with is.
func (is *InstructionSet) Disassemble(bc []byte) string {
	var sb strings.Builder
	for ip := 0; ip < len(bc); {
		op := Opcode(bc[ip])
		in, ok := is.Lookup(op)
		if !ok {
			fmt.Fprintf(&sb, "%04d  %s\n", ip, is.Name(op))
			ip++
			continue
		}
		fmt.Fprintf(&sb, "%04d  %s", ip, in.Name)
		off := ip + 1
		for _, size := range in.Operands {
			if off+size > len(bc) {
				sb.WriteString(" <truncated>")
				break
			}
			fmt.Fprintf(&sb, " %d", readOperand(bc, off, size))
			off += size
		}
		sb.WriteByte('\n')
		ip += in.Width
	}
	return sb.String()
}

func readOperand(bc []byte, off, size int) int {
	switch size {
	case 1:
		return int(bc[off])
	case 2:
		return int(binary.LittleEndian.Uint16(bc[off:]))
	case 4:
		return int(int32(binary.LittleEndian.Uint32(bc[off:])))
	default:
		panic(fmt.Sprintf("unsupported operand size %d", size))
	}
}
