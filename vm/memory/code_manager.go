package memory

import (
	"sync"
)

// CodeManager owns the code region. Code objects never move and carry
// their own mark set, cleared at the start of every cycle.
type CodeManager struct {
	heap *Heap

	mu    sync.Mutex
	marks map[Address]struct{}
	freed int
}

// NewCodeManager creates an empty code space over heap.
func NewCodeManager(heap *Heap) *CodeManager {
	return &CodeManager{
		heap:  heap,
		marks: make(map[Address]struct{}),
	}
}

// ClearMarks forgets every mark from the previous cycle.
func (cm *CodeManager) ClearMarks() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	clear(cm.marks)
	cm.freed = 0
}

// Mark marks a code object. It returns true the first time.
func (cm *CodeManager) Mark(obj *Object) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.marks[obj.addr]; ok {
		return false
	}
	cm.marks[obj.addr] = struct{}{}
	return true
}

// Marked reports whether obj was marked this cycle.
func (cm *CodeManager) Marked(obj *Object) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	_, ok := cm.marks[obj.addr]
	return ok
}

// Sweep frees every unmarked code object and returns how many went.
func (cm *CodeManager) Sweep() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	freed := 0
	for _, obj := range cm.heap.inRegion(RegionCode) {
		if _, ok := cm.marks[obj.addr]; ok {
			continue
		}
		cm.heap.free(obj)
		freed++
	}
	cm.freed = freed
	return freed
}

// Freed returns the number of code objects freed by the last sweep.
func (cm *CodeManager) Freed() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.freed
}

// Len returns the number of live code objects.
func (cm *CodeManager) Len() int {
	return cm.heap.Stats(RegionCode).Objects
}
