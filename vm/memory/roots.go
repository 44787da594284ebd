package memory

import "sync"

// ---------------------------------------------------------------------------
// Roots: explicit root slots
// ---------------------------------------------------------------------------

// Root is a single slot that is visited every cycle. Roots constrain
// liveness; they do not own anything.
type Root struct {
	value Value
	roots *Roots
}

// Get returns the slot's current value.
func (r *Root) Get() Value { return r.value }

// Set stores v in the slot.
func (r *Root) Set(v Value) { r.value = v }

// Roots is an ordered set of root slots. It serves both as the global root
// set and as a thread's explicit root stack.
type Roots struct {
	mu    sync.Mutex
	items []*Root
}

// NewRoots creates an empty root set.
func NewRoots() *Roots {
	return &Roots{}
}

// Add registers a new slot holding v.
func (rs *Roots) Add(v Value) *Root {
	r := &Root{value: v, roots: rs}
	rs.mu.Lock()
	rs.items = append(rs.items, r)
	rs.mu.Unlock()
	return r
}

// Push is Add for roots used as a stack.
func (rs *Roots) Push(v Value) *Root { return rs.Add(v) }

// Pop removes the most recently pushed slot and returns its value.
func (rs *Roots) Pop() Value {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := len(rs.items)
	if n == 0 {
		return Nil
	}
	r := rs.items[n-1]
	rs.items[n-1] = nil
	rs.items = rs.items[:n-1]
	r.roots = nil
	return r.value
}

// Remove unregisters r.
func (rs *Roots) Remove(r *Root) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, item := range rs.items {
		if item == r {
			copy(rs.items[i:], rs.items[i+1:])
			rs.items[len(rs.items)-1] = nil
			rs.items = rs.items[:len(rs.items)-1]
			r.roots = nil
			return
		}
	}
}

// Len returns the number of slots.
func (rs *Roots) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.items)
}

// scan offers every slot in registration order.
func (rs *Roots) scan(c *Cycle, f ForwardFunc, owner any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, r := range rs.items {
		update(c, f, owner, &r.value)
	}
}

// ---------------------------------------------------------------------------
// VariableRootBuffer: stack-scoped groups of local variable slots
// ---------------------------------------------------------------------------

// VariableRootBuffer registers the addresses of local variables for the
// lifetime of a managed call frame. Buffers form a singly linked list with
// the most recently pushed buffer at the front.
type VariableRootBuffer struct {
	slots  []*Value
	next   *VariableRootBuffer
	thread *ManagedThread
}

// Size returns the number of registered slots.
func (b *VariableRootBuffer) Size() int { return len(b.slots) }

// Next returns the buffer pushed before b.
func (b *VariableRootBuffer) Next() *VariableRootBuffer { return b.next }

// Release unlinks the buffer. Buffers are normally released in LIFO order
// with defer; releasing out of order unlinks from the middle of the chain.
func (b *VariableRootBuffer) Release() {
	t := b.thread
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.variableRoots == b {
		t.variableRoots = b.next
	} else {
		for cur := t.variableRoots; cur != nil; cur = cur.next {
			if cur.next == b {
				cur.next = b.next
				break
			}
		}
	}
	b.next = nil
	b.thread = nil
}

// ---------------------------------------------------------------------------
// RootBuffer: batch-registered slot arrays
// ---------------------------------------------------------------------------

// RootBuffer registers a whole slice of slots, such as an argument vector.
// The slice is scanned in place, so moves are visible to its owner.
type RootBuffer struct {
	buffer []Value
	thread *ManagedThread
}

// Buffer returns the registered slice.
func (b *RootBuffer) Buffer() []Value { return b.buffer }

// Release unregisters the buffer.
func (b *RootBuffer) Release() {
	t := b.thread
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.rootBuffers) - 1; i >= 0; i-- {
		if t.rootBuffers[i] == b {
			copy(t.rootBuffers[i:], t.rootBuffers[i+1:])
			t.rootBuffers[len(t.rootBuffers)-1] = nil
			t.rootBuffers = t.rootBuffers[:len(t.rootBuffers)-1]
			break
		}
	}
	b.thread = nil
}
