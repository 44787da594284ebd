package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var (
	// ErrCycleActive is returned when a cycle is begun while another one is
	// in progress, and by allocation during a cycle.
	ErrCycleActive = errors.New("memory: a collection cycle is already active")

	// ErrNoCycle is returned when a cycle operation is given a cycle that is
	// not the active one.
	ErrNoCycle = errors.New("memory: no such active collection cycle")

	// ErrRootsNotEnumerated is returned by FinishCycle when the roots of the
	// cycle were never enumerated.
	ErrRootsNotEnumerated = errors.New("memory: roots were not enumerated")
)

// Config tunes the collectors.
type Config struct {
	// PromotionAge is the number of young collections an object survives
	// before it is copied into the mature region.
	PromotionAge int

	// YoungBytes is the amount of young allocation after which
	// ShouldCollect reports pressure.
	YoungBytes int64

	// LargeObjectFields is the field count at which objects are allocated
	// directly in the large region.
	LargeObjectFields int

	// StrictHandles makes handle anomalies fail root enumeration.
	StrictHandles bool
}

// DefaultConfig returns the default collector settings.
func DefaultConfig() Config {
	return Config{
		PromotionAge:      3,
		YoungBytes:        4 << 20,
		LargeObjectFields: 1024,
	}
}

// SymbolSweeper is the symbol table hook run once per cycle after the
// object sweep. reachable reports the symbols held by live slots; Sweep
// must keep those and returns the number of symbols dropped.
type SymbolSweeper interface {
	Sweep(reachable func(id uint32) bool) int
}

// Cycle is the coordinator value threaded through one collection. It only
// lives between BeginCycle and FinishCycle.
type Cycle struct {
	ID   uint64
	Mark Mark

	enumerated bool
	started    time.Time
	stats      CycleStats

	// symbols holds the IDs of symbols found in roots and traced objects.
	symbols map[uint32]struct{}
}

// Stats returns the statistics gathered so far.
func (c *Cycle) Stats() CycleStats { return c.stats }

func (c *Cycle) noteSymbol(v Value) {
	if c.symbols == nil {
		c.symbols = make(map[uint32]struct{})
	}
	c.symbols[v.SymbolID()] = struct{}{}
}

// SymbolReachable reports whether a root or a traced object held the
// symbol with the given ID during this cycle.
func (c *Cycle) SymbolReachable(id uint32) bool {
	_, ok := c.symbols[id]
	return ok
}

type pendingFinalizer struct {
	fn    func(Value)
	value Value
}

// MemoryManager coordinates the young, old and code collectors over one
// shared heap, and drives the three-phase collection protocol
// BeginCycle, EnumerateRoots, FinishCycle.
type MemoryManager struct {
	cfg Config

	heap    *Heap
	young   *ImmixCollector
	old     *MarkSweepCollector
	code    *CodeManager
	handles *HandleTable
	globals *Roots
	nexus   *ThreadNexus
	scanner *RootScanner
	symbols SymbolSweeper
	metrics *GCMetrics

	cycleCount atomic.Uint64
	active     atomic.Pointer[Cycle]
	mark       Mark
	youngBytes atomic.Int64
	lastStats  atomic.Pointer[CycleStats]

	finalizersMu sync.Mutex
	finalizers   []pendingFinalizer

	log commonlog.Logger
}

// NewMemoryManager creates a manager with an empty heap.
func NewMemoryManager(cfg Config) *MemoryManager {
	def := DefaultConfig()
	if cfg.PromotionAge <= 0 {
		cfg.PromotionAge = def.PromotionAge
	}
	if cfg.YoungBytes <= 0 {
		cfg.YoungBytes = def.YoungBytes
	}
	if cfg.LargeObjectFields <= 0 {
		cfg.LargeObjectFields = def.LargeObjectFields
	}

	heap := NewHeap()
	old := NewMarkSweepCollector(heap)
	code := NewCodeManager(heap)
	handles := NewHandleTable(heap)
	globals := NewRoots()
	nexus := NewThreadNexus()

	mm := &MemoryManager{
		cfg:     cfg,
		heap:    heap,
		young:   NewImmixCollector(heap, old, code, cfg.PromotionAge),
		old:     old,
		code:    code,
		handles: handles,
		globals: globals,
		nexus:   nexus,
		scanner: NewRootScanner(globals, nexus, handles),
		metrics: &GCMetrics{},
		mark:    MarkOne,
		log:     commonlog.GetLogger("memory"),
	}
	mm.scanner.SetStrict(cfg.StrictHandles)
	return mm
}

// SetSymbolSweeper installs the symbol table hook.
func (mm *MemoryManager) SetSymbolSweeper(s SymbolSweeper) { mm.symbols = s }

func (mm *MemoryManager) Config() Config { return mm.cfg }
func (mm *MemoryManager) Heap() *Heap { return mm.heap }
func (mm *MemoryManager) Globals() *Roots { return mm.globals }
func (mm *MemoryManager) Threads() *ThreadNexus { return mm.nexus }
func (mm *MemoryManager) Handles() *HandleTable { return mm.handles }
func (mm *MemoryManager) Code() *CodeManager { return mm.code }
func (mm *MemoryManager) Young() *ImmixCollector { return mm.young }
func (mm *MemoryManager) Old() *MarkSweepCollector { return mm.old }
func (mm *MemoryManager) Metrics() *GCMetrics { return mm.metrics }
func (mm *MemoryManager) CycleCount() uint64 { return mm.cycleCount.Load() }
func (mm *MemoryManager) Collecting() bool { return mm.active.Load() != nil }
func (mm *MemoryManager) Deref(v Value) *Object { return mm.heap.Deref(v) }
func (mm *MemoryManager) YoungBytesAllocated() int64 { return mm.youngBytes.Load() }

// LastStats returns the statistics of the most recent finished cycle, or
// nil if none has run.
func (mm *MemoryManager) LastStats() *CycleStats { return mm.lastStats.Load() }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------
//
// The Collecting check only rejects callers that run inside a cycle. Two
// callers are safe: a managed thread between Enter and Leave, which holds
// the world lock shared so no cycle can begin until it parks, and setup
// code that runs while no other goroutine can collect. An unmanaged caller
// racing a collector may have its new object swept before it is rooted.

// Allocate creates an object with nfields Nil fields in the young region,
// or in the large region when nfields reaches the large object threshold.
func (mm *MemoryManager) Allocate(class Value, nfields int, data any) (*Object, error) {
	if mm.Collecting() {
		return nil, ErrCycleActive
	}
	if nfields >= mm.cfg.LargeObjectFields {
		return mm.heap.allocate(RegionLarge, class, nfields, data), nil
	}
	obj := mm.heap.allocate(RegionYoung, class, nfields, data)
	mm.youngBytes.Add(int64(obj.Size()))
	return obj, nil
}

// AllocateWith creates a young or large object whose fields are a copy of
// fields.
func (mm *MemoryManager) AllocateWith(class Value, fields []Value, data any) (*Object, error) {
	if mm.Collecting() {
		return nil, ErrCycleActive
	}
	cp := make([]Value, len(fields))
	copy(cp, fields)
	if len(cp) >= mm.cfg.LargeObjectFields {
		return mm.heap.place(RegionLarge, class, cp, data), nil
	}
	obj := mm.heap.place(RegionYoung, class, cp, data)
	mm.youngBytes.Add(int64(obj.Size()))
	return obj, nil
}

// AllocateMature creates a long-lived object that never moves.
func (mm *MemoryManager) AllocateMature(class Value, nfields int, data any) (*Object, error) {
	if mm.Collecting() {
		return nil, ErrCycleActive
	}
	return mm.heap.allocate(RegionMature, class, nfields, data), nil
}

// AllocateCode creates an object in the code region.
func (mm *MemoryManager) AllocateCode(class Value, nfields int, data any) (*Object, error) {
	if mm.Collecting() {
		return nil, ErrCycleActive
	}
	return mm.heap.allocate(RegionCode, class, nfields, data), nil
}

// AppendField adds a field holding v to obj and returns its index. Method
// tables and other growable objects use it between cycles.
func (mm *MemoryManager) AppendField(obj *Object, v Value) (int, error) {
	if mm.Collecting() {
		return -1, ErrCycleActive
	}
	i := mm.heap.grow(obj, v)
	if obj.region == RegionYoung {
		mm.youngBytes.Add(8)
	}
	return i, nil
}

// ShouldCollect reports allocation pressure on the young region.
func (mm *MemoryManager) ShouldCollect() bool {
	return mm.youngBytes.Load() >= mm.cfg.YoungBytes
}

// ---------------------------------------------------------------------------
// Collection protocol
// ---------------------------------------------------------------------------

// BeginCycle starts a collection. Only one cycle may be active at a time.
func (mm *MemoryManager) BeginCycle() (*Cycle, error) {
	c := &Cycle{started: time.Now()}
	if !mm.active.CompareAndSwap(nil, c) {
		return nil, ErrCycleActive
	}
	c.Mark = mm.mark
	c.ID = mm.cycleCount.Add(1)
	c.stats.ID = c.ID
	c.stats.Mark = c.Mark
	c.stats.Started = c.started

	mm.code.ClearMarks()
	mm.young.ResetStats()
	mm.old.ResetStats()
	mm.young.Collect(c)

	mm.log.Debugf("cycle %d: begin (mark %d)", c.ID, c.Mark)
	return c, nil
}

// EnumerateRoots offers every root to f, in order: global roots, each
// thread's roots, the handle table. Moved roots are rewritten.
func (mm *MemoryManager) EnumerateRoots(c *Cycle, f ForwardFunc) error {
	if mm.active.Load() != c {
		return ErrNoCycle
	}
	err := mm.scanner.Scan(c, f)
	c.enumerated = true
	mm.log.Debugf("cycle %d: %d roots visited, %d moved, %d handles offered",
		c.ID, c.stats.RootsVisited, c.stats.RootsMoved, c.stats.HandlesOffered)
	return err
}

// Forward is the young collector's move/mark callback, the ForwardFunc to
// hand to EnumerateRoots.
func (mm *MemoryManager) Forward(c *Cycle, owner any, ref Value) Forwarding {
	return mm.young.Forward(c, owner, ref)
}

// FinishCycle completes tracing, sweeps every region, sweeps the symbol
// table, rotates the mark and records metrics.
func (mm *MemoryManager) FinishCycle(c *Cycle) (*CycleStats, error) {
	if mm.active.Load() != c {
		return nil, ErrNoCycle
	}
	if !c.enumerated {
		return nil, fmt.Errorf("cycle %d: %w", c.ID, ErrRootsNotEnumerated)
	}

	mm.young.CollectFinish(c)
	mm.resolveHandles(c)

	c.stats.CodeFreed = mm.code.Sweep()
	mm.young.Sweep(c)
	mm.old.AfterMarked(c)

	if mm.symbols != nil {
		c.stats.SymbolsSwept = mm.symbols.Sweep(c.SymbolReachable)
	}

	mm.rotateMark()

	ys := mm.young.Stats()
	ms := mm.old.Stats()
	c.stats.Copied = ys.Copied
	c.stats.Promoted = ys.Promoted
	c.stats.YoungFreed = ys.Freed
	c.stats.MatureFreed = ms.Freed
	c.stats.LargeFreed = ms.LargeFreed
	c.stats.BytesFreed = ys.BytesFreed + ms.BytesFreed
	c.stats.Duration = time.Since(c.started)

	stats := c.stats
	mm.metrics.record(&stats)
	mm.lastStats.Store(&stats)
	mm.youngBytes.Store(int64(mm.heap.Stats(RegionYoung).Bytes))
	mm.active.Store(nil)

	mm.log.Infof("cycle %d: copied=%d promoted=%d freed=%d code-freed=%d in %s",
		c.ID, stats.Copied, stats.Promoted, stats.YoungFreed+stats.MatureFreed,
		stats.CodeFreed, stats.Duration)
	return &stats, nil
}

func (mm *MemoryManager) rotateMark() {
	if mm.mark == MarkOne {
		mm.mark = MarkTwo
	} else {
		mm.mark = MarkOne
	}
}

// retained reports whether obj survived tracing in c and where it lives now.
func (mm *MemoryManager) retained(c *Cycle, obj *Object) (Value, bool) {
	if to, ok := obj.Forwarded(); ok {
		return FromAddress(to), true
	}
	if obj.region == RegionCode {
		return obj.Value(), mm.code.Marked(obj)
	}
	return obj.Value(), obj.MarkedIn(c.Mark)
}

// resolveHandles clears weak handles and queues finalizers for targets
// that did not survive tracing, and follows moves for those that did.
func (mm *MemoryManager) resolveHandles(c *Cycle) {
	for _, h := range mm.handles.snapshot() {
		if h.kind != HandleReference || h.plain() {
			continue
		}
		v := h.Peek()
		if !v.IsObject() {
			continue
		}
		obj := mm.heap.Deref(v)
		if obj != nil {
			if now, ok := mm.retained(c, obj); ok {
				if now != v {
					h.set(now)
				}
				continue
			}
		}

		if h.weak {
			h.set(Nil)
			c.stats.WeakCleared++
			continue
		}
		mm.finalizersMu.Lock()
		mm.finalizers = append(mm.finalizers, pendingFinalizer{fn: h.finalizer, value: v})
		mm.finalizersMu.Unlock()
		mm.handles.Remove(h)
		c.stats.Finalized++
	}
}

// RunFinalizers runs every finalizer queued by finished cycles. It must be
// called outside a cycle; Collect does so after restarting the world.
func (mm *MemoryManager) RunFinalizers() int {
	mm.finalizersMu.Lock()
	pending := mm.finalizers
	mm.finalizers = nil
	mm.finalizersMu.Unlock()

	for _, p := range pending {
		p.fn(p.value)
	}
	return len(pending)
}

// Collect runs a full cycle: it stops the world, enumerates roots with the
// young collector's Forward, finishes the cycle, restarts the world and
// runs finalizers. It must not be called from a managed thread.
func (mm *MemoryManager) Collect() (*CycleStats, error) {
	return mm.collect(true)
}

// CollectIfNeeded is Collect for pressure-driven callers. Pressure is
// checked again once the world is stopped; if a concurrent cycle already
// relieved it, no cycle runs and the stats are nil.
func (mm *MemoryManager) CollectIfNeeded() (*CycleStats, error) {
	return mm.collect(false)
}

func (mm *MemoryManager) collect(force bool) (*CycleStats, error) {
	start := time.Now()
	mm.nexus.StopTheWorld()

	if !force && !mm.ShouldCollect() {
		mm.nexus.RestartTheWorld()
		return nil, nil
	}
	stats, err := mm.collectStopped()

	mm.nexus.RestartTheWorld()
	mm.metrics.PauseNanos.Add(int64(time.Since(start)))

	if stats != nil {
		mm.RunFinalizers()
	}
	return stats, err
}

func (mm *MemoryManager) collectStopped() (*CycleStats, error) {
	c, err := mm.BeginCycle()
	if err != nil {
		return nil, err
	}
	scanErr := mm.EnumerateRoots(c, mm.Forward)
	stats, err := mm.FinishCycle(c)
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return stats, fmt.Errorf("cycle %d: %w", c.ID, scanErr)
	}
	return stats, nil
}
