package memory

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestManager(t *testing.T) *MemoryManager {
	t.Helper()
	return NewMemoryManager(Config{PromotionAge: 3, LargeObjectFields: 64})
}

func mustAllocate(t *testing.T, mm *MemoryManager, nfields int, data any) *Object {
	t.Helper()
	obj, err := mm.Allocate(Nil, nfields, data)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return obj
}

// chain builds head -> ... -> tail and returns the head.
func chain(t *testing.T, mm *MemoryManager, n int) *Object {
	t.Helper()
	var next Value = Nil
	var head *Object
	for i := n - 1; i >= 0; i-- {
		obj := mustAllocate(t, mm, 1, i)
		obj.Fields[0] = next
		next = obj.Value()
		head = obj
	}
	return head
}

func walkChain(t *testing.T, mm *MemoryManager, v Value, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		obj := mm.Deref(v)
		if obj == nil {
			t.Fatalf("chain element %d: stale reference %v", i, v)
		}
		if obj.Data != i {
			t.Fatalf("chain element %d: payload %v", i, obj.Data)
		}
		v = obj.Field(0)
	}
	if v != Nil {
		t.Fatalf("chain not terminated, got %v", v)
	}
}

func TestCollectRewritesGlobalRoots(t *testing.T) {
	mm := newTestManager(t)
	head := chain(t, mm, 5)
	before := head.Value()
	root := mm.Globals().Add(before)

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	after := root.Get()
	if after == before {
		t.Fatalf("young root was not moved")
	}
	if mm.Heap().Contains(before) {
		t.Errorf("original of moved object still live at %v", before)
	}
	walkChain(t, mm, after, 5)

	if stats.Copied != 5 {
		t.Errorf("copied = %d, want 5", stats.Copied)
	}
	if stats.RootsMoved != 1 {
		t.Errorf("roots moved = %d, want 1", stats.RootsMoved)
	}
}

func TestCollectFreesUnreachable(t *testing.T) {
	mm := newTestManager(t)
	live := mustAllocate(t, mm, 0, "live")
	root := mm.Globals().Add(live.Value())
	for i := 0; i < 10; i++ {
		mustAllocate(t, mm, 2, nil)
	}

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.YoungFreed != 10 {
		t.Errorf("young freed = %d, want 10", stats.YoungFreed)
	}
	if got := mm.Heap().Len(); got != 1 {
		t.Errorf("heap has %d objects, want 1", got)
	}
	if mm.Deref(root.Get()).Data != "live" {
		t.Errorf("live object lost")
	}
}

func TestThreadRootsAreRewritten(t *testing.T) {
	mm := newTestManager(t)
	thr := mm.Threads().NewThread("worker")

	stacked := mustAllocate(t, mm, 0, "stack")
	thr.Roots().Push(stacked.Value())

	local := mustAllocate(t, mm, 0, "local").Value()
	var empty Value = Nil
	vrb := thr.PushVariableRoots(&local, nil, &empty)
	defer vrb.Release()

	buf := []Value{mustAllocate(t, mm, 0, "buf").Value(), FromSmallInt(7)}
	rb := thr.PushRootBuffer(buf)
	defer rb.Release()

	scanned := &sliceScanner{slots: []Value{mustAllocate(t, mm, 0, "scan").Value()}}
	thr.SetScanner(scanned)

	oldLocal := local
	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if local == oldLocal {
		t.Errorf("variable root not rewritten")
	}
	checks := map[string]Value{
		"stack": thr.Roots().Pop(),
		"local": local,
		"buf":   buf[0],
		"scan":  scanned.slots[0],
	}
	for want, v := range checks {
		obj := mm.Deref(v)
		if obj == nil || obj.Data != want {
			t.Errorf("%s root: got %v", want, v)
		}
	}
	if buf[1] != FromSmallInt(7) {
		t.Errorf("immediate in root buffer changed to %v", buf[1])
	}
	if empty != Nil {
		t.Errorf("nil slot changed to %v", empty)
	}
}

type sliceScanner struct {
	slots []Value
}

func (s *sliceScanner) GCScan(c *Cycle, visit Visitor) {
	for i := range s.slots {
		visit(s, &s.slots[i])
	}
}

func TestEnumerationOrder(t *testing.T) {
	mm := newTestManager(t)
	mm.Globals().Add(mustAllocate(t, mm, 0, nil).Value())

	thr := mm.Threads().NewThread("worker")
	thr.Roots().Push(mustAllocate(t, mm, 0, nil).Value())
	local := mustAllocate(t, mm, 0, nil).Value()
	defer thr.PushVariableRoots(&local).Release()
	defer thr.PushRootBuffer([]Value{mustAllocate(t, mm, 0, nil).Value()}).Release()
	thr.SetScanner(&sliceScanner{slots: []Value{mustAllocate(t, mm, 0, nil).Value()}})
	mm.Handles().New(mustAllocate(t, mm, 0, nil).Value())

	var order []string
	record := func(c *Cycle, owner any, ref Value) Forwarding {
		switch owner.(type) {
		case *Roots:
			order = append(order, "globals")
		case *ManagedThread:
			order = append(order, "stack")
		case *VariableRootBuffer:
			order = append(order, "variables")
		case *RootBuffer:
			order = append(order, "buffers")
		case *sliceScanner:
			order = append(order, "scanner")
		case *Handle:
			order = append(order, "handles")
		}
		return mm.Forward(c, owner, ref)
	}

	c, err := mm.BeginCycle()
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	if err := mm.EnumerateRoots(c, record); err != nil {
		t.Fatalf("EnumerateRoots: %v", err)
	}
	if _, err := mm.FinishCycle(c); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}

	want := []string{"globals", "stack", "variables", "buffers", "scanner", "handles"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSingleActiveCycle(t *testing.T) {
	mm := newTestManager(t)

	const racers = 16
	var wins atomic.Int32
	var won *Cycle
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := mm.BeginCycle()
			if err != nil {
				if !errors.Is(err, ErrCycleActive) {
					t.Errorf("BeginCycle: unexpected error %v", err)
				}
				return
			}
			wins.Add(1)
			mu.Lock()
			won = c
			mu.Unlock()
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d cycles began concurrently, want 1", wins.Load())
	}
	if _, err := mm.Allocate(Nil, 0, nil); !errors.Is(err, ErrCycleActive) {
		t.Errorf("Allocate during cycle: err = %v, want ErrCycleActive", err)
	}
	if err := mm.EnumerateRoots(won, mm.Forward); err != nil {
		t.Fatalf("EnumerateRoots: %v", err)
	}
	if _, err := mm.FinishCycle(won); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}
	if _, err := mm.FinishCycle(won); !errors.Is(err, ErrNoCycle) {
		t.Errorf("second FinishCycle: err = %v, want ErrNoCycle", err)
	}
	if mm.CycleCount() != 1 {
		t.Errorf("cycle count = %d, want 1", mm.CycleCount())
	}
}

func TestFinishRequiresEnumeration(t *testing.T) {
	mm := newTestManager(t)
	c, err := mm.BeginCycle()
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	if _, err := mm.FinishCycle(c); !errors.Is(err, ErrRootsNotEnumerated) {
		t.Fatalf("FinishCycle: err = %v, want ErrRootsNotEnumerated", err)
	}
	if err := mm.EnumerateRoots(c, mm.Forward); err != nil {
		t.Fatalf("EnumerateRoots: %v", err)
	}
	if _, err := mm.FinishCycle(c); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}
}

func TestPromotionStopsMoves(t *testing.T) {
	mm := newTestManager(t)
	root := mm.Globals().Add(mustAllocate(t, mm, 0, "old").Value())

	for i := 1; i <= 3; i++ {
		before := root.Get()
		if _, err := mm.Collect(); err != nil {
			t.Fatalf("Collect %d: %v", i, err)
		}
		if root.Get() == before {
			t.Fatalf("collection %d: young object did not move", i)
		}
	}

	obj := mm.Deref(root.Get())
	if obj.Region() != RegionMature {
		t.Fatalf("region after 3 cycles = %s, want mature", obj.Region())
	}

	before := root.Get()
	for i := 0; i < 3; i++ {
		if _, err := mm.Collect(); err != nil {
			t.Fatalf("Collect: %v", err)
		}
	}
	if root.Get() != before {
		t.Errorf("mature object moved from %v to %v", before, root.Get())
	}
}

func TestMatureAndLargeSweep(t *testing.T) {
	mm := newTestManager(t)
	kept, err := mm.AllocateMature(Nil, 1, "kept")
	if err != nil {
		t.Fatalf("AllocateMature: %v", err)
	}
	young := mustAllocate(t, mm, 0, "young")
	kept.Fields[0] = young.Value()
	mm.Globals().Add(kept.Value())

	if _, err := mm.AllocateMature(Nil, 0, "dropped"); err != nil {
		t.Fatalf("AllocateMature: %v", err)
	}
	large := mustAllocate(t, mm, 64, "large")
	if large.Region() != RegionLarge {
		t.Fatalf("64-field object in %s, want large", large.Region())
	}

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.MatureFreed != 2 || stats.LargeFreed != 1 {
		t.Errorf("mature freed = %d large freed = %d, want 2 and 1", stats.MatureFreed, stats.LargeFreed)
	}
	if mm.Deref(kept.Value()) != kept {
		t.Fatalf("mature root moved or freed")
	}
	if obj := mm.Deref(kept.Field(0)); obj == nil || obj.Data != "young" {
		t.Errorf("field of mature object not rewritten: %v", kept.Field(0))
	}
}

func TestCodeSweep(t *testing.T) {
	mm := newTestManager(t)
	live, _ := mm.AllocateCode(Nil, 1, "live")
	literal := mustAllocate(t, mm, 0, "literal")
	live.Fields[0] = literal.Value()
	mm.Globals().Add(live.Value())
	if _, err := mm.AllocateCode(Nil, 0, "dead"); err != nil {
		t.Fatalf("AllocateCode: %v", err)
	}

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.CodeFreed != 1 {
		t.Errorf("code freed = %d, want 1", stats.CodeFreed)
	}
	if mm.Code().Len() != 1 {
		t.Errorf("code objects = %d, want 1", mm.Code().Len())
	}
	if obj := mm.Deref(live.Field(0)); obj == nil || obj.Data != "literal" {
		t.Errorf("code literal not traced: %v", live.Field(0))
	}
}

func TestCyclicGraphSurvives(t *testing.T) {
	mm := newTestManager(t)
	a := mustAllocate(t, mm, 1, "a")
	b := mustAllocate(t, mm, 1, "b")
	a.Fields[0] = b.Value()
	b.Fields[0] = a.Value()
	root := mm.Globals().Add(a.Value())

	for i := 0; i < 4; i++ {
		if _, err := mm.Collect(); err != nil {
			t.Fatalf("Collect: %v", err)
		}
	}
	na := mm.Deref(root.Get())
	nb := mm.Deref(na.Field(0))
	if nb == nil || nb.Data != "b" {
		t.Fatalf("b lost")
	}
	if nb.Field(0) != root.Get() {
		t.Errorf("b points at %v, want %v", nb.Field(0), root.Get())
	}
	if mm.Heap().Len() != 2 {
		t.Errorf("heap has %d objects, want 2", mm.Heap().Len())
	}
}

type countingSweeper struct{ calls int }

func (s *countingSweeper) Sweep(func(uint32) bool) int {
	s.calls++
	return 0
}

func TestFinishCycleMetricsAndHooks(t *testing.T) {
	mm := newTestManager(t)
	sweeper := &countingSweeper{}
	mm.SetSymbolSweeper(sweeper)

	marks := map[Mark]bool{}
	for i := 0; i < 3; i++ {
		c, err := mm.BeginCycle()
		if err != nil {
			t.Fatalf("BeginCycle: %v", err)
		}
		marks[c.Mark] = true
		if err := mm.EnumerateRoots(c, mm.Forward); err != nil {
			t.Fatalf("EnumerateRoots: %v", err)
		}
		if _, err := mm.FinishCycle(c); err != nil {
			t.Fatalf("FinishCycle: %v", err)
		}
	}

	if sweeper.calls != 3 {
		t.Errorf("symbol sweeps = %d, want 3", sweeper.calls)
	}
	if len(marks) != 2 {
		t.Errorf("marks used = %v, want both", marks)
	}
	snap := mm.Metrics().Snapshot()
	if snap.YoungCollections != 3 || snap.LargeCollections != 3 {
		t.Errorf("metrics young=%d large=%d, want 3 and 3", snap.YoungCollections, snap.LargeCollections)
	}
	if mm.LastStats() == nil || mm.LastStats().ID != 3 {
		t.Errorf("last stats = %+v", mm.LastStats())
	}
}

func TestStaleReferenceIsReported(t *testing.T) {
	mm := newTestManager(t)
	obj := mustAllocate(t, mm, 0, nil)
	stale := obj.Value()
	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	mm.Globals().Add(stale)

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.StaleReferences != 1 {
		t.Errorf("stale references = %d, want 1", stats.StaleReferences)
	}
}

func TestShouldCollect(t *testing.T) {
	mm := NewMemoryManager(Config{YoungBytes: 1024})
	for !mm.ShouldCollect() {
		mustAllocate(t, mm, 8, nil)
	}
	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if mm.ShouldCollect() {
		t.Errorf("pressure still reported after collecting garbage")
	}
}

type recordingSweeper struct{ held map[uint32]bool }

func (s *recordingSweeper) Sweep(reachable func(uint32) bool) int {
	for id := uint32(1); id <= 4; id++ {
		s.held[id] = reachable(id)
	}
	return 0
}

func TestCycleRecordsHeldSymbols(t *testing.T) {
	mm := newTestManager(t)
	sweeper := &recordingSweeper{held: map[uint32]bool{}}
	mm.SetSymbolSweeper(sweeper)

	inner := mustAllocate(t, mm, 1, nil)
	inner.Fields[0] = FromSymbolID(2)
	outer := mustAllocate(t, mm, 2, nil)
	outer.Fields[0] = inner.Value()
	outer.Fields[1] = FromSymbolID(1)
	mm.Globals().Add(outer.Value())
	mm.Globals().Add(FromSymbolID(3))

	garbage := mustAllocate(t, mm, 1, nil)
	garbage.Fields[0] = FromSymbolID(4)

	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := map[uint32]bool{1: true, 2: true, 3: true, 4: false}
	for id, held := range want {
		if sweeper.held[id] != held {
			t.Errorf("symbol %d reachable = %v, want %v", id, sweeper.held[id], held)
		}
	}
}
