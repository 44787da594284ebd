package memory

import (
	"github.com/tliron/commonlog"
)

// ImmixStats counts the work done by the young collector in one cycle.
type ImmixStats struct {
	Copied      int
	Promoted    int
	BytesCopied int
	Freed       int
	BytesFreed  int
	Stale       int
}

// ImmixCollector collects the young region by evacuation. It owns every
// move decision; references into the mature, large and code regions are
// handed to the non-moving collectors and only traced from here.
type ImmixCollector struct {
	heap *Heap
	old  *MarkSweepCollector
	code *CodeManager

	promotionAge uint8

	cycle *Cycle
	gray  []*Object
	stats ImmixStats

	log commonlog.Logger
}

// NewImmixCollector creates the young collector. Objects that have
// survived promotionAge young collections are copied into the mature
// region instead.
func NewImmixCollector(heap *Heap, old *MarkSweepCollector, code *CodeManager, promotionAge int) *ImmixCollector {
	if promotionAge < 1 {
		promotionAge = 1
	}
	if promotionAge > 255 {
		promotionAge = 255
	}
	return &ImmixCollector{
		heap:         heap,
		old:          old,
		code:         code,
		promotionAge: uint8(promotionAge),
		log:          commonlog.GetLogger("memory.immix"),
	}
}

// ResetStats zeroes the per-cycle counters.
func (ic *ImmixCollector) ResetStats() {
	ic.stats = ImmixStats{}
}

// Stats returns the counters for the current or last cycle.
func (ic *ImmixCollector) Stats() ImmixStats { return ic.stats }

// Collect prepares the collector for cycle c.
func (ic *ImmixCollector) Collect(c *Cycle) {
	ic.cycle = c
	ic.gray = ic.gray[:0]
}

// Forward is the move/mark callback for the cycle. Young objects are
// evacuated and the caller is told where they went; everything else is
// marked in place.
func (ic *ImmixCollector) Forward(c *Cycle, owner any, ref Value) Forwarding {
	if !ref.IsObject() {
		return Unmoved()
	}
	obj := ic.heap.Lookup(ref.Address())
	if obj == nil {
		ic.stats.Stale++
		c.stats.StaleReferences++
		ic.log.Errorf("cycle %d: stale reference %v held by %T", c.ID, ref, owner)
		return Unmoved()
	}

	if to, ok := obj.Forwarded(); ok {
		return MovedTo(FromAddress(to))
	}

	switch obj.region {
	case RegionYoung:
		if obj.MarkedIn(c.Mark) {
			// Survivor copied earlier in this cycle.
			return Unmoved()
		}
		return MovedTo(ic.evacuate(c, obj).Value())

	case RegionMature, RegionLarge:
		if ic.old.Mark(c, obj) {
			ic.gray = append(ic.gray, obj)
		}

	case RegionCode:
		if ic.code.Mark(obj) {
			ic.gray = append(ic.gray, obj)
		}
	}
	return Unmoved()
}

func (ic *ImmixCollector) evacuate(c *Cycle, obj *Object) *Object {
	dest := RegionYoung
	if obj.age+1 >= ic.promotionAge {
		dest = RegionMature
	}
	cp := ic.heap.relocate(obj, dest)
	cp.age = obj.age + 1
	cp.mark = c.Mark
	obj.forwarded = cp.addr

	ic.stats.Copied++
	ic.stats.BytesCopied += cp.Size()
	if dest == RegionMature {
		ic.stats.Promoted++
	}
	ic.gray = append(ic.gray, cp)
	return cp
}

// CollectFinish traces everything reachable from the gray objects,
// forwarding and rewriting each traced slot.
func (ic *ImmixCollector) CollectFinish(c *Cycle) {
	for len(ic.gray) > 0 {
		n := len(ic.gray) - 1
		obj := ic.gray[n]
		ic.gray[n] = nil
		ic.gray = ic.gray[:n]

		ic.scanObject(c, obj)
	}
}

func (ic *ImmixCollector) scanObject(c *Cycle, obj *Object) {
	if obj.Class.IsObject() {
		if to, ok := ic.Forward(c, obj, obj.Class).Moved(); ok {
			obj.Class = to
		}
	}
	for i, v := range obj.Fields {
		if v.IsSymbol() {
			c.noteSymbol(v)
			continue
		}
		if !v.IsObject() {
			continue
		}
		if to, ok := ic.Forward(c, obj, v).Moved(); ok {
			obj.Fields[i] = to
		}
	}
	c.stats.ObjectsTraced++
}

// Sweep releases every young object not evacuated this cycle: the dead
// ones and the originals left behind by evacuation.
func (ic *ImmixCollector) Sweep(c *Cycle) {
	for _, obj := range ic.heap.inRegion(RegionYoung) {
		if obj.MarkedIn(c.Mark) {
			continue
		}
		if _, moved := obj.Forwarded(); !moved {
			ic.stats.Freed++
			ic.stats.BytesFreed += obj.Size()
		}
		ic.heap.free(obj)
	}
	ic.cycle = nil
	ic.log.Debugf("cycle %d: young copied=%d promoted=%d freed=%d",
		c.ID, ic.stats.Copied, ic.stats.Promoted, ic.stats.Freed)
}
