package vm

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/ebrahimk/rubinius/vm/memory"
)

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// Classes holds the bootstrap classes. They are mature objects, so the
// values stay valid across collections; each is also a global root.
type Classes struct {
	Object       Value
	Module       Value
	Class        Value
	MethodTable  Value
	Array        Value
	CallUnit     Value
	Executable   Value
	CompiledCode Value
	Primitive    Value
	Integer      Value
	Float        Value
	Symbol       Value
	NilClass     Value
	TrueClass    Value
	FalseClass   Value
	Exception    Value
	TypeError    Value
}

// Options configures a VM.
type Options struct {
	Memory memory.Config

	// StackSize is the initial operand stack size of each thread.
	StackSize int

	// MaxDepth bounds the number of nested frames per thread.
	MaxDepth int

	// Instructions is the default instruction set for compiled code.
	Instructions *InstructionSet
}

// DefaultOptions returns the default VM options.
func DefaultOptions() Options {
	return Options{
		Memory:    memory.DefaultConfig(),
		StackSize: 256,
		MaxDepth:  10000,
	}
}

// VM owns the managed heap, the symbol table and the bootstrap classes.
type VM struct {
	mm           *memory.MemoryManager
	symbols      *SymbolTable
	instructions *InstructionSet
	classes      Classes

	stackSize int
	maxDepth  int

	constMu   sync.RWMutex
	constants map[uint32]*memory.Root

	threadsMu sync.Mutex
	threads   map[uint32]*Thread

	log commonlog.Logger
}

// NewVM creates and bootstraps a new VM.
func NewVM(opts Options) (*VM, error) {
	def := DefaultOptions()
	if opts.StackSize <= 0 {
		opts.StackSize = def.StackSize
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.Instructions == nil {
		opts.Instructions = DefaultInstructionSet()
	}

	vm := &VM{
		mm:           memory.NewMemoryManager(opts.Memory),
		symbols:      NewSymbolTable(),
		instructions: opts.Instructions,
		stackSize:    opts.StackSize,
		maxDepth:     opts.MaxDepth,
		constants:    make(map[uint32]*memory.Root),
		threads:      make(map[uint32]*Thread),
		log:          commonlog.GetLogger("vm"),
	}
	vm.mm.SetSymbolSweeper(vm.symbols)

	if err := vm.bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if err := vm.registerPrimitives(); err != nil {
		return nil, fmt.Errorf("primitives: %w", err)
	}
	return vm, nil
}

// Memory returns the memory manager.
func (vm *VM) Memory() *memory.MemoryManager { return vm.mm }

// Symbols returns the symbol table.
func (vm *VM) Symbols() *SymbolTable { return vm.symbols }

// Classes returns the bootstrap classes.
func (vm *VM) Classes() Classes { return vm.classes }

// Instructions returns the default instruction set.
func (vm *VM) Instructions() *InstructionSet { return vm.instructions }

// ---------------------------------------------------------------------------
// Bootstrap: Create core classes
// ---------------------------------------------------------------------------

func (vm *VM) bootstrap() error {
	// Class, Object and Module refer to each other; create them classless
	// and fix the class slots once MethodTable exists.
	var err error
	boot := func(dst *Value, name string, super Value) {
		if err != nil {
			return
		}
		*dst, err = vm.newModule(Nil, name, super, true)
	}

	c := &vm.classes
	boot(&c.Object, "Object", Nil)
	boot(&c.Module, "Module", c.Object)
	boot(&c.Class, "Class", c.Module)
	boot(&c.MethodTable, "MethodTable", c.Object)
	boot(&c.Array, "Array", c.Object)
	boot(&c.CallUnit, "CallUnit", c.Object)
	boot(&c.Executable, "Executable", c.Object)
	boot(&c.CompiledCode, "CompiledCode", c.Executable)
	boot(&c.Primitive, "Primitive", c.Executable)
	boot(&c.Integer, "Integer", c.Object)
	boot(&c.Float, "Float", c.Object)
	boot(&c.Symbol, "Symbol", c.Object)
	boot(&c.NilClass, "NilClass", c.Object)
	boot(&c.TrueClass, "TrueClass", c.Object)
	boot(&c.FalseClass, "FalseClass", c.Object)
	boot(&c.Exception, "Exception", c.Object)
	boot(&c.TypeError, "TypeError", c.Exception)
	if err != nil {
		return err
	}

	all := []Value{
		c.Object, c.Module, c.Class, c.MethodTable, c.Array, c.CallUnit,
		c.Executable, c.CompiledCode, c.Primitive, c.Integer, c.Float,
		c.Symbol, c.NilClass, c.TrueClass, c.FalseClass, c.Exception,
		c.TypeError,
	}
	for _, cls := range all {
		obj := vm.mm.Deref(cls)
		obj.Class = c.Class
		vm.mm.Deref(obj.Field(moduleMethods)).Class = c.MethodTable
		vm.SetConstant(vm.ModuleName(cls), cls)
	}
	vm.log.Debugf("bootstrapped %d classes", len(all))
	return nil
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// SetConstant binds name to v. Constants are global roots.
func (vm *VM) SetConstant(name string, v Value) {
	id := vm.symbols.Intern(name)
	vm.constMu.Lock()
	defer vm.constMu.Unlock()
	if r, ok := vm.constants[id]; ok {
		r.Set(v)
		return
	}
	vm.constants[id] = vm.mm.Globals().Add(v)
}

// Constant returns the value bound to name.
func (vm *VM) Constant(name string) (Value, bool) {
	id, ok := vm.symbols.Lookup(name)
	if !ok {
		return Nil, false
	}
	vm.constMu.RLock()
	defer vm.constMu.RUnlock()
	r, ok := vm.constants[id]
	if !ok {
		return Nil, false
	}
	return r.Get(), true
}

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// NewThread creates a worker thread registered with the collector.
func (vm *VM) NewThread(name string) *Thread {
	t := newThread(vm, vm.mm.Threads().NewThread(name))

	vm.threadsMu.Lock()
	vm.threads[t.ID()] = t
	vm.threadsMu.Unlock()
	return t
}

// ThreadCount returns the number of live threads.
func (vm *VM) ThreadCount() int {
	vm.threadsMu.Lock()
	defer vm.threadsMu.Unlock()
	return len(vm.threads)
}

func (vm *VM) removeThread(t *Thread) {
	vm.threadsMu.Lock()
	delete(vm.threads, t.ID())
	vm.threadsMu.Unlock()
	vm.mm.Threads().Unregister(t.mt)
}

// Collect runs a full collection from outside any managed thread.
func (vm *VM) Collect() (*memory.CycleStats, error) {
	return vm.mm.Collect()
}

// Intern returns the ID of a permanent symbol.
func (vm *VM) Intern(name string) uint32 { return vm.symbols.Intern(name) }

// Symbol returns a permanent symbol value.
func (vm *VM) Symbol(name string) Value { return vm.symbols.SymbolValue(name) }
