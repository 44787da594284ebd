package vm

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/ebrahimk/rubinius/vm/memory"
)

// ---------------------------------------------------------------------------
// Thread: a worker running managed code
// ---------------------------------------------------------------------------

// Thread runs managed code. It owns an operand stack and a frame stack,
// both of which the collector scans through GCScan.
//
// Go code holding a Value across a call that may reach a safepoint must
// keep it in a registered slot (Roots, PushVariableRoots or an Arguments
// record); anything else may be left stale by a move.
type Thread struct {
	vm *VM
	mt *memory.ManagedThread

	stack  []Value
	sp     int
	frames []*CallFrame

	// pending is the exception parked by cast_multi_value for the
	// run_exception that follows it.
	pending error

	// onUnit, when set, sees each call unit run with its call site's
	// executable and module.
	onUnit func(unit, exec, mod Value)

	log commonlog.Logger
}

func newThread(vm *VM, mt *memory.ManagedThread) *Thread {
	t := &Thread{
		vm:     vm,
		mt:     mt,
		stack:  make([]Value, vm.stackSize),
		frames: make([]*CallFrame, 0, 16),
		log:    commonlog.GetLogger("vm.thread"),
	}
	mt.SetScanner(t)
	return t
}

// ID returns the thread ID.
func (t *Thread) ID() uint32 { return t.mt.ID() }

// Name returns the thread name.
func (t *Thread) Name() string { return t.mt.Name() }

// VM returns the owning VM.
func (t *Thread) VM() *VM { return t.vm }

// Managed returns the collector's view of the thread.
func (t *Thread) Managed() *memory.ManagedThread { return t.mt }

// Enter starts running managed code. Collections wait for the thread to
// reach a checkpoint.
func (t *Thread) Enter() { t.mt.Enter() }

// Leave stops running managed code.
func (t *Thread) Leave() { t.mt.Leave() }

// Close unregisters the thread.
func (t *Thread) Close() {
	t.vm.removeThread(t)
}

// Depth returns the number of active frames.
func (t *Thread) Depth() int { return len(t.frames) }

// Pending returns the exception parked for run_exception, if any.
func (t *Thread) Pending() error { return t.pending }

// Checkpoint is a safepoint. Under allocation pressure the thread runs a
// collection itself; otherwise it parks if another thread is collecting.
func (t *Thread) Checkpoint() error {
	if t.vm.mm.ShouldCollect() {
		_, err := t.collect(t.vm.mm.CollectIfNeeded)
		return err
	}
	t.mt.Checkpoint()
	return nil
}

// Collect runs a full collection from this thread. The thread parks for
// the duration so the world can stop.
func (t *Thread) Collect() (*memory.CycleStats, error) {
	return t.collect(t.vm.mm.Collect)
}

func (t *Thread) collect(run func() (*memory.CycleStats, error)) (*memory.CycleStats, error) {
	if t.mt.Managed() {
		t.mt.Leave()
		defer t.mt.Enter()
	}
	stats, err := run()
	if err != nil {
		t.log.Errorf("thread %s: collection failed: %s", t.Name(), err)
	}
	return stats, err
}

// GCScan offers the thread's frames and operand stack to the collector.
func (t *Thread) GCScan(c *memory.Cycle, visit memory.Visitor) {
	for _, f := range t.frames {
		visit(f, &f.Exec)
		visit(f, &f.Module)
		visit(f, &f.Self)
		for i := range f.Locals {
			visit(f, &f.Locals[i])
		}
	}
	for i := 0; i < t.sp; i++ {
		visit(t, &t.stack[i])
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Send calls method name on recv. It may be called from outside managed
// code, in which case the thread enters for the duration of the call.
func (t *Thread) Send(recv Value, name string, args ...Value) (Value, error) {
	if !t.mt.Managed() {
		t.mt.Enter()
		defer t.mt.Leave()
	}
	return t.send(NewArguments(t.vm.Symbol(name), recv, args...))
}

func (t *Thread) send(args *Arguments) (Value, error) {
	name := args.Name()
	cls := t.vm.ClassOf(args.Receiver())
	exec, owner, ok := t.vm.LookupMethod(cls, name.SymbolID())
	if !ok {
		return Nil, NewException(ClassNoMethodError, "undefined method '%s' for %s",
			t.vm.symbols.SymbolName(name), t.vm.ModuleName(cls))
	}
	return t.Execute(exec, owner, args)
}

// Execute runs exec with module mod. The arguments are registered as roots
// for the duration of the call.
func (t *Thread) Execute(exec, mod Value, args *Arguments) (Value, error) {
	obj := t.vm.mm.Deref(exec)
	if obj == nil {
		return Nil, TypeError("%v is not executable", exec)
	}
	defer args.register(t.mt).Release()

	switch code := obj.Data.(type) {
	case *Primitive:
		return code.Fn(t, exec, mod, args)
	case *CompiledCode:
		return t.run(exec, code, mod, args)
	default:
		return Nil, TypeError("%v is not executable", exec)
	}
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

var errStackUnderflow = errors.New("vm: operand stack underflow")

func (t *Thread) push(v Value) {
	if t.sp >= len(t.stack) {
		grown := make([]Value, len(t.stack)*2+1)
		copy(grown, t.stack)
		t.stack = grown
	}
	t.stack[t.sp] = v
	t.sp++
}

func (t *Thread) pop() Value {
	if t.sp <= 0 {
		panic(errStackUnderflow)
	}
	t.sp--
	return t.stack[t.sp]
}

func (t *Thread) top() Value {
	if t.sp <= 0 {
		panic(errStackUnderflow)
	}
	return t.stack[t.sp-1]
}

func (t *Thread) popN(n int) []Value {
	if t.sp < n {
		panic(errStackUnderflow)
	}
	out := make([]Value, n)
	t.sp -= n
	copy(out, t.stack[t.sp:t.sp+n])
	return out
}
