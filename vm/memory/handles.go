package memory

import (
	"sort"
	"sync"
	"sync/atomic"
)

// HandleKind classifies what a handle refers to.
type HandleKind uint8

const (
	// HandleReference holds a managed object reference.
	HandleReference HandleKind = iota
	// HandleData holds an off-heap payload and nothing the collector traces.
	HandleData
	// HandleInvalid was registered with something that is neither.
	HandleInvalid
)

func (k HandleKind) String() string {
	switch k {
	case HandleReference:
		return "reference"
	case HandleData:
		return "data"
	default:
		return "invalid"
	}
}

// Handle keeps a reference valid from outside the heap. Moves rewrite the
// stored value; holders always read through Get.
type Handle struct {
	id    uint64
	kind  HandleKind
	table *HandleTable

	mu    sync.Mutex
	value Value
	data  any

	refs     atomic.Int32
	accesses atomic.Uint32

	weak      bool
	finalizer func(Value)
}

// ID returns the handle's table identifier.
func (h *Handle) ID() uint64 { return h.id }

// Kind returns the handle classification.
func (h *Handle) Kind() HandleKind { return h.kind }

// Get returns the current reference and counts the access.
func (h *Handle) Get() Value {
	h.accesses.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

// Peek returns the current reference without counting an access.
func (h *Handle) Peek() Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

func (h *Handle) set(v Value) {
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}

// Data returns the payload of a data handle.
func (h *Handle) Data() any { return h.data }

// Retain adds an explicit reference. A retained handle is always treated as
// a root.
func (h *Handle) Retain() { h.refs.Add(1) }

// Release drops an explicit reference.
func (h *Handle) Release() {
	if h.refs.Add(-1) < 0 {
		h.refs.Store(0)
	}
}

// Referenced returns the explicit reference count.
func (h *Handle) Referenced() int { return int(h.refs.Load()) }

// Accesses returns the number of reads since the last cycle.
func (h *Handle) Accesses() uint32 { return h.accesses.Load() }

// SetAccesses overwrites the access counter.
func (h *Handle) SetAccesses(n uint32) { h.accesses.Store(n) }

func (h *Handle) unsetAccesses() { h.accesses.Store(0) }

// Weak reports whether the handle does not keep its target alive.
func (h *Handle) Weak() bool { return h.weak }

// HasFinalizer reports whether a finalizer runs when the target dies.
func (h *Handle) HasFinalizer() bool { return h.finalizer != nil }

// plain reports whether the handle is an ordinary strong reference.
func (h *Handle) plain() bool { return !h.weak && h.finalizer == nil }

// ---------------------------------------------------------------------------
// HandleTable
// ---------------------------------------------------------------------------

// HandleTable is the off-heap registry of handles. It is scanned once per
// cycle, after all thread roots.
type HandleTable struct {
	heap *Heap

	mu      sync.RWMutex
	handles map[uint64]*Handle
	nextID  atomic.Uint64
}

// NewHandleTable creates an empty table over heap.
func NewHandleTable(heap *Heap) *HandleTable {
	t := &HandleTable{
		heap:    heap,
		handles: make(map[uint64]*Handle),
	}
	// Start IDs at 1 (0 could be confused with nil/uninitialized)
	t.nextID.Store(1)
	return t
}

func (t *HandleTable) register(h *Handle) *Handle {
	h.id = t.nextID.Add(1) - 1
	h.table = t

	t.mu.Lock()
	t.handles[h.id] = h
	t.mu.Unlock()
	return h
}

func (t *HandleTable) newFor(v Value, weak bool, fn func(Value)) *Handle {
	h := &Handle{value: v, weak: weak, finalizer: fn}
	if !v.IsObject() {
		h.kind = HandleInvalid
		return t.register(h)
	}
	h.kind = HandleReference
	if obj := t.heap.Deref(v); obj != nil {
		switch {
		case weak:
			obj.SetFlag(FlagWeakRef)
		case fn != nil:
			obj.SetFlag(FlagFinalizer)
		default:
			obj.SetFlag(FlagHandle)
			obj.handle = h
		}
	}
	return t.register(h)
}

// New registers a strong handle for v. Registering an immediate is allowed
// but produces an invalid handle that the scanner reports as an anomaly.
func (t *HandleTable) New(v Value) *Handle { return t.newFor(v, false, nil) }

// NewWeak registers a handle that does not keep v alive. It is cleared when
// v dies.
func (t *HandleTable) NewWeak(v Value) *Handle { return t.newFor(v, true, nil) }

// NewFinalizer registers a handle that does not keep v alive and runs fn
// once v has died.
func (t *HandleTable) NewFinalizer(v Value, fn func(Value)) *Handle {
	return t.newFor(v, false, fn)
}

// NewData registers an off-heap payload.
func (t *HandleTable) NewData(payload any) *Handle {
	return t.register(&Handle{kind: HandleData, value: Nil, data: payload})
}

// Remove unregisters h.
func (t *HandleTable) Remove(h *Handle) {
	t.mu.Lock()
	delete(t.handles, h.id)
	t.mu.Unlock()

	if obj := t.heap.Deref(h.Peek()); obj != nil && obj.handle == h {
		obj.handle = nil
		obj.ClearFlag(FlagHandle)
	}
}

// Lookup finds a handle by ID.
func (t *HandleTable) Lookup(id uint64) *Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handles[id]
}

// Len returns the number of registered handles.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}

// snapshot returns the handles in ID order.
func (t *HandleTable) snapshot() []*Handle {
	t.mu.RLock()
	out := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// shouldOffer decides whether a reference handle is a root this cycle.
func (h *Handle) shouldOffer() bool {
	switch {
	case h.refs.Load() > 0:
		return true
	case h.accesses.Load() > 0:
		return true
	default:
		return h.plain()
	}
}
