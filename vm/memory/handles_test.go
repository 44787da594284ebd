package memory

import (
	"errors"
	"testing"
)

func TestHandleAccessesResetByScan(t *testing.T) {
	tests := []struct {
		name   string
		mature bool
	}{
		{"moved", false},
		{"unmoved", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm := newTestManager(t)
			var obj *Object
			var err error
			if tt.mature {
				obj, err = mm.AllocateMature(Nil, 0, "target")
			} else {
				obj, err = mm.Allocate(Nil, 0, "target")
			}
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			h := mm.Handles().New(obj.Value())
			h.SetAccesses(3)

			c, err := mm.BeginCycle()
			if err != nil {
				t.Fatalf("BeginCycle: %v", err)
			}
			if err := mm.EnumerateRoots(c, mm.Forward); err != nil {
				t.Fatalf("EnumerateRoots: %v", err)
			}
			if h.Accesses() != 0 {
				t.Errorf("accesses after scan = %d, want 0", h.Accesses())
			}
			if c.Stats().HandlesOffered != 1 {
				t.Errorf("handles offered = %d, want 1", c.Stats().HandlesOffered)
			}
			if _, err := mm.FinishCycle(c); err != nil {
				t.Fatalf("FinishCycle: %v", err)
			}

			moved := h.Peek() != obj.Value()
			if moved == tt.mature {
				t.Errorf("handle moved = %v for mature = %v", moved, tt.mature)
			}
			if got := mm.Deref(h.Peek()); got == nil || got.Data != "target" {
				t.Errorf("handle target lost: %v", h.Peek())
			}
		})
	}
}

func TestHandleGetCountsAccess(t *testing.T) {
	mm := newTestManager(t)
	h := mm.Handles().New(mustAllocate(t, mm, 0, nil).Value())
	h.Get()
	h.Get()
	h.Peek()
	if h.Accesses() != 2 {
		t.Errorf("accesses = %d, want 2", h.Accesses())
	}
}

func TestWeakHandleCleared(t *testing.T) {
	mm := newTestManager(t)
	obj := mustAllocate(t, mm, 0, nil)
	h := mm.Handles().NewWeak(obj.Value())
	if !obj.WeakRefP() {
		t.Fatalf("weak flag not set on target")
	}

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if h.Peek() != Nil {
		t.Errorf("weak handle = %v, want nil", h.Peek())
	}
	if stats.WeakCleared != 1 {
		t.Errorf("weak cleared = %d, want 1", stats.WeakCleared)
	}
	if mm.Heap().Len() != 0 {
		t.Errorf("weak target kept alive")
	}
}

func TestWeakHandleFollowsMove(t *testing.T) {
	mm := newTestManager(t)
	obj := mustAllocate(t, mm, 0, "kept")
	root := mm.Globals().Add(obj.Value())
	h := mm.Handles().NewWeak(obj.Value())

	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if h.Peek() != root.Get() {
		t.Errorf("weak handle = %v, want %v", h.Peek(), root.Get())
	}
}

func TestAccessedWeakHandleIsRoot(t *testing.T) {
	mm := newTestManager(t)
	h := mm.Handles().NewWeak(mustAllocate(t, mm, 0, "read").Value())
	h.Get()

	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if obj := mm.Deref(h.Peek()); obj == nil || obj.Data != "read" {
		t.Errorf("recently read weak target was collected")
	}
}

func TestFinalizerRunsAfterCollect(t *testing.T) {
	mm := newTestManager(t)
	obj := mustAllocate(t, mm, 0, nil)
	dead := obj.Value()

	var got []Value
	h := mm.Handles().NewFinalizer(dead, func(v Value) {
		if mm.Collecting() {
			t.Errorf("finalizer ran inside a cycle")
		}
		got = append(got, v)
	})

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 1 || got[0] != dead {
		t.Fatalf("finalizer calls = %v, want [%v]", got, dead)
	}
	if stats.Finalized != 1 {
		t.Errorf("finalized = %d, want 1", stats.Finalized)
	}
	if mm.Handles().Lookup(h.ID()) != nil {
		t.Errorf("finalizer handle still registered")
	}

	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("finalizer ran %d times", len(got))
	}
}

func TestRetainedHandleIsRoot(t *testing.T) {
	mm := newTestManager(t)
	h := mm.Handles().NewFinalizer(mustAllocate(t, mm, 0, "held").Value(), func(Value) {
		t.Errorf("finalizer ran for retained handle")
	})
	h.Retain()

	if _, err := mm.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if obj := mm.Deref(h.Peek()); obj == nil || obj.Data != "held" {
		t.Fatalf("retained target lost")
	}

	h.Release()
	if h.Referenced() != 0 {
		t.Errorf("referenced = %d, want 0", h.Referenced())
	}
}

func TestDataHandlesSkipped(t *testing.T) {
	mm := newTestManager(t)
	h := mm.Handles().NewData(map[string]int{"x": 1})

	c, err := mm.BeginCycle()
	if err != nil {
		t.Fatalf("BeginCycle: %v", err)
	}
	var offered int
	count := func(c *Cycle, owner any, ref Value) Forwarding {
		if owner == h {
			offered++
		}
		return mm.Forward(c, owner, ref)
	}
	if err := mm.EnumerateRoots(c, count); err != nil {
		t.Fatalf("EnumerateRoots: %v", err)
	}
	if _, err := mm.FinishCycle(c); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}
	if offered != 0 {
		t.Errorf("data handle offered %d times", offered)
	}
	if h.Kind() != HandleData || h.Data().(map[string]int)["x"] != 1 {
		t.Errorf("data handle changed")
	}
}

func TestInvalidHandleAnomaly(t *testing.T) {
	mm := newTestManager(t)
	h := mm.Handles().New(FromSmallInt(42))
	if h.Kind() != HandleInvalid {
		t.Fatalf("kind = %s, want invalid", h.Kind())
	}
	root := mm.Globals().Add(mustAllocate(t, mm, 0, "live").Value())

	stats, err := mm.Collect()
	if err != nil {
		t.Fatalf("lenient Collect: %v", err)
	}
	if stats.Anomalies != 1 {
		t.Errorf("anomalies = %d, want 1", stats.Anomalies)
	}
	if mm.Deref(root.Get()) == nil {
		t.Errorf("live root lost")
	}
}

func TestStrictHandleAnomaly(t *testing.T) {
	mm := NewMemoryManager(Config{StrictHandles: true})
	mm.Handles().New(FromSmallInt(1))
	root := mm.Globals().Add(mustAllocate(t, mm, 0, "live").Value())
	after := mm.Handles().New(mustAllocate(t, mm, 0, "after").Value())

	stats, err := mm.Collect()
	if !errors.Is(err, ErrHandleAnomaly) {
		t.Fatalf("Collect: err = %v, want ErrHandleAnomaly", err)
	}
	if stats == nil {
		t.Fatalf("strict failure did not finish the cycle")
	}
	if mm.Collecting() {
		t.Fatalf("cycle still active after strict failure")
	}
	if mm.Deref(root.Get()) == nil {
		t.Errorf("root lost after strict failure")
	}
	if obj := mm.Deref(after.Peek()); obj == nil || obj.Data != "after" {
		t.Errorf("handle after the anomaly was not scanned")
	}
}
