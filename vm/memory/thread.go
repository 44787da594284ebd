package memory

import (
	"sync"
	"sync/atomic"
)

// GCScanner is implemented by thread-owned structures the collector cannot
// see through the generic root sets (interpreter frames, operand stacks).
// GCScan must pass every slot holding a reference to visit.
type GCScanner interface {
	GCScan(c *Cycle, visit Visitor)
}

// ManagedThread is the collector's view of a worker thread: its root sets
// and its participation in stop-the-world.
type ManagedThread struct {
	id    uint32
	name  string
	nexus *ThreadNexus

	// mu guards the root structures below against a concurrent scan.
	mu            sync.Mutex
	roots         *Roots
	variableRoots *VariableRootBuffer
	rootBuffers   []*RootBuffer
	scanner       GCScanner

	// managed is read by Unregister, which may run on another goroutine.
	managed atomic.Bool
}

// ID returns the thread's registry ID.
func (t *ManagedThread) ID() uint32 { return t.id }

// Name returns the thread's name.
func (t *ManagedThread) Name() string { return t.name }

// Roots returns the explicit root stack.
func (t *ManagedThread) Roots() *Roots { return t.roots }

// SetScanner installs the hook for thread-internal structures.
func (t *ManagedThread) SetScanner(s GCScanner) {
	t.mu.Lock()
	t.scanner = s
	t.mu.Unlock()
}

// PushVariableRoots registers the given local variable slots until the
// returned buffer is released.
func (t *ManagedThread) PushVariableRoots(slots ...*Value) *VariableRootBuffer {
	b := &VariableRootBuffer{slots: slots, thread: t}
	t.mu.Lock()
	b.next = t.variableRoots
	t.variableRoots = b
	t.mu.Unlock()
	return b
}

// VariableRootBuffers returns the front of the variable root chain.
func (t *ManagedThread) VariableRootBuffers() *VariableRootBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.variableRoots
}

// PushRootBuffer registers buf until the returned buffer is released.
func (t *ManagedThread) PushRootBuffer(buf []Value) *RootBuffer {
	b := &RootBuffer{buffer: buf, thread: t}
	t.mu.Lock()
	t.rootBuffers = append(t.rootBuffers, b)
	t.mu.Unlock()
	return b
}

// RootBufferCount returns the number of registered root buffers.
func (t *ManagedThread) RootBufferCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rootBuffers)
}

// Enter marks the thread as running managed code. While managed, the
// thread holds off stop-the-world until its next Checkpoint or Leave.
func (t *ManagedThread) Enter() {
	if t.managed.Load() {
		return
	}
	t.nexus.world.RLock()
	t.managed.Store(true)
}

// Leave parks the thread outside managed code. A parked thread must not
// touch heap objects or its root slots. The shared world lock is released
// once however many goroutines call Leave.
func (t *ManagedThread) Leave() {
	if !t.managed.CompareAndSwap(true, false) {
		return
	}
	t.nexus.world.RUnlock()
}

// Managed reports whether the thread is between Enter and Leave.
func (t *ManagedThread) Managed() bool { return t.managed.Load() }

// Checkpoint is a safepoint: if a collection is waiting, the thread parks
// until it has finished.
func (t *ManagedThread) Checkpoint() {
	if !t.managed.Load() {
		return
	}
	if t.nexus.stopping.Load() == 0 {
		return
	}
	t.Leave()
	t.Enter()
}

// scan walks this thread's roots in the fixed order root stack, variable
// root buffers, root buffers, thread scanner.
func (t *ManagedThread) scan(c *Cycle, f ForwardFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roots.scan(c, f, t)

	for vrb := t.variableRoots; vrb != nil; vrb = vrb.next {
		for _, slot := range vrb.slots {
			if slot == nil {
				continue
			}
			update(c, f, vrb, slot)
		}
	}

	for _, rb := range t.rootBuffers {
		buf := rb.buffer
		for i := range buf {
			update(c, f, rb, &buf[i])
		}
	}

	if t.scanner != nil {
		t.scanner.GCScan(c, func(owner any, slot *Value) {
			update(c, f, owner, slot)
		})
	}
}

// ---------------------------------------------------------------------------
// ThreadNexus: thread registry and stop-the-world
// ---------------------------------------------------------------------------

// ThreadNexus tracks every managed thread. The registry lock serializes
// registration against root scanning; the world lock is held shared by
// running threads and exclusively by the collector.
type ThreadNexus struct {
	threadsMu sync.Mutex
	threads   []*ManagedThread
	nextID    atomic.Uint32

	world    sync.RWMutex
	stopping atomic.Int32
}

// NewThreadNexus creates an empty registry.
func NewThreadNexus() *ThreadNexus {
	n := &ThreadNexus{}
	n.nextID.Store(1)
	return n
}

// NewThread registers a new managed thread. The thread starts parked.
func (n *ThreadNexus) NewThread(name string) *ManagedThread {
	t := &ManagedThread{
		id:    n.nextID.Add(1) - 1,
		name:  name,
		nexus: n,
		roots: NewRoots(),
	}
	n.threadsMu.Lock()
	n.threads = append(n.threads, t)
	n.threadsMu.Unlock()
	return t
}

// Unregister removes t from the registry. A managed thread is parked first;
// Unregister may be called from a goroutine other than t's owner once the
// owner has stopped running managed code.
func (n *ThreadNexus) Unregister(t *ManagedThread) {
	t.Leave()

	n.threadsMu.Lock()
	defer n.threadsMu.Unlock()
	for i, thr := range n.threads {
		if thr == t {
			copy(n.threads[i:], n.threads[i+1:])
			n.threads[len(n.threads)-1] = nil
			n.threads = n.threads[:len(n.threads)-1]
			return
		}
	}
}

// Len returns the number of registered threads.
func (n *ThreadNexus) Len() int {
	n.threadsMu.Lock()
	defer n.threadsMu.Unlock()
	return len(n.threads)
}

// each calls fn for every registered thread while holding the registry lock.
func (n *ThreadNexus) each(fn func(*ManagedThread)) {
	n.threadsMu.Lock()
	defer n.threadsMu.Unlock()
	for _, t := range n.threads {
		fn(t)
	}
}

// StopTheWorld blocks until every managed thread has parked, and keeps
// them parked until RestartTheWorld. The caller must not itself be a
// managed thread.
func (n *ThreadNexus) StopTheWorld() {
	n.stopping.Add(1)
	n.world.Lock()
}

// RestartTheWorld releases threads parked by StopTheWorld.
func (n *ThreadNexus) RestartTheWorld() {
	n.stopping.Add(-1)
	n.world.Unlock()
}

// Stopping reports whether a stop-the-world request is pending or active.
func (n *ThreadNexus) Stopping() bool { return n.stopping.Load() > 0 }
