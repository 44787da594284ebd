package memory

import (
	"sync"
)

// RegionStats is a point-in-time view of one region.
type RegionStats struct {
	Objects int
	Bytes   int
}

// Heap owns every managed object. Objects are looked up by address; a
// reference whose address is no longer present is stale.
type Heap struct {
	mu      sync.RWMutex
	objects map[Address]*Object
	next    Address

	regions [RegionCode + 1]RegionStats
}

// NewHeap creates an empty heap. Address 0 is never allocated.
func NewHeap() *Heap {
	return &Heap{
		objects: make(map[Address]*Object),
		next:    1,
	}
}

func (h *Heap) place(region Region, class Value, fields []Value, data any) *Object {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.next > MaxAddress {
		panic("memory: address space exhausted")
	}
	obj := &Object{
		Header: Header{addr: h.next, region: region},
		Class:  class,
		Fields: fields,
		Data:   data,
	}
	h.next++
	h.objects[obj.addr] = obj
	h.regions[region].Objects++
	h.regions[region].Bytes += obj.Size()
	return obj
}

// allocate places a new object with nfields Nil fields in region.
func (h *Heap) allocate(region Region, class Value, nfields int, data any) *Object {
	fields := make([]Value, nfields)
	for i := range fields {
		fields[i] = Nil
	}
	return h.place(region, class, fields, data)
}

// relocate copies obj to a fresh address in region. The copy keeps the
// header flags, handle and payload; fields are copied verbatim and still
// refer to the old addresses until the copy is scanned.
func (h *Heap) relocate(obj *Object, region Region) *Object {
	fields := make([]Value, len(obj.Fields))
	copy(fields, obj.Fields)
	cp := h.place(region, obj.Class, fields, obj.Data)
	cp.age = obj.age
	cp.flags = obj.flags
	cp.handle = obj.handle
	return cp
}

// free removes obj from the heap.
func (h *Heap) free(obj *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[obj.addr]; !ok {
		return
	}
	delete(h.objects, obj.addr)
	h.regions[obj.region].Objects--
	h.regions[obj.region].Bytes -= obj.Size()
}

// grow appends v to obj's fields and accounts for the larger object.
func (h *Heap) grow(obj *Object, v Value) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	before := obj.Size()
	obj.Fields = append(obj.Fields, v)
	if _, ok := h.objects[obj.addr]; ok {
		h.regions[obj.region].Bytes += obj.Size() - before
	}
	return len(obj.Fields) - 1
}

// Lookup returns the object at addr, or nil if it is not live.
func (h *Heap) Lookup(addr Address) *Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.objects[addr]
}

// Deref returns the object v refers to. It returns nil for immediates and
// for stale references.
func (h *Heap) Deref(v Value) *Object {
	if !v.IsObject() {
		return nil
	}
	return h.Lookup(v.Address())
}

// Contains reports whether v is a live reference.
func (h *Heap) Contains(v Value) bool {
	return h.Deref(v) != nil
}

// inRegion returns a snapshot of the objects currently in region.
func (h *Heap) inRegion(region Region) []*Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Object, 0, h.regions[region].Objects)
	for _, obj := range h.objects {
		if obj.region == region {
			out = append(out, obj)
		}
	}
	return out
}

// Stats returns per-region object and byte counts.
func (h *Heap) Stats(region Region) RegionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.regions[region]
}

// Len returns the number of live objects.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}
