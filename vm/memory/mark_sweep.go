package memory

import (
	"github.com/tliron/commonlog"
)

// MarkSweepStats counts the work done by the old collector in one cycle.
type MarkSweepStats struct {
	Marked     int
	Freed      int
	LargeFreed int
	BytesFreed int
}

// MarkSweepCollector collects the mature and large regions in place.
type MarkSweepCollector struct {
	heap  *Heap
	stats MarkSweepStats
	log   commonlog.Logger
}

// NewMarkSweepCollector creates the old collector.
func NewMarkSweepCollector(heap *Heap) *MarkSweepCollector {
	return &MarkSweepCollector{
		heap: heap,
		log:  commonlog.GetLogger("memory.marksweep"),
	}
}

// ResetStats zeroes the per-cycle counters.
func (ms *MarkSweepCollector) ResetStats() { ms.stats = MarkSweepStats{} }

// Stats returns the counters for the current or last cycle.
func (ms *MarkSweepCollector) Stats() MarkSweepStats { return ms.stats }

// Mark marks obj for cycle c. It returns true only the first time obj is
// marked in the cycle, so the caller traces each object once.
func (ms *MarkSweepCollector) Mark(c *Cycle, obj *Object) bool {
	if obj.MarkedIn(c.Mark) {
		return false
	}
	obj.mark = c.Mark
	ms.stats.Marked++
	return true
}

// AfterMarked sweeps every mature and large object left unmarked.
func (ms *MarkSweepCollector) AfterMarked(c *Cycle) {
	for _, region := range []Region{RegionMature, RegionLarge} {
		for _, obj := range ms.heap.inRegion(region) {
			if obj.MarkedIn(c.Mark) {
				continue
			}
			ms.stats.Freed++
			if region == RegionLarge {
				ms.stats.LargeFreed++
			}
			ms.stats.BytesFreed += obj.Size()
			ms.heap.free(obj)
		}
	}
	ms.log.Debugf("cycle %d: old marked=%d freed=%d", c.ID, ms.stats.Marked, ms.stats.Freed)
}
