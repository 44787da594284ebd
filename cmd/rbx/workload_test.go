package main

import (
	"context"
	"strings"
	"testing"

	"github.com/ebrahimk/rubinius/vm"
)

func TestWorkloadRuns(t *testing.T) {
	opts := vm.DefaultOptions()
	opts.Memory.YoungBytes = 16 << 10
	v, err := vm.NewVM(opts)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	w, err := newWorkload(v)
	if err != nil {
		t.Fatalf("newWorkload: %v", err)
	}

	const n = 2000
	results, err := w.run(context.Background(), 3, n, 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, r := range results {
		if r != 2*n {
			t.Errorf("worker %d sum = %d, want %d", i, r, 2*n)
		}
	}
	if v.Memory().CycleCount() == 0 {
		t.Errorf("no collections under allocation pressure")
	}

	if _, err := v.Collect(); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := w.finalized.Load(); got != 6 {
		t.Errorf("finalized = %d, want 6", got)
	}
	if v.ThreadCount() != 0 {
		t.Errorf("%d threads still registered", v.ThreadCount())
	}
}

func TestWorkloadCancelled(t *testing.T) {
	v, err := vm.NewVM(vm.DefaultOptions())
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	w, err := newWorkload(v)
	if err != nil {
		t.Fatalf("newWorkload: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.run(ctx, 2, 10, 1); err == nil {
		t.Errorf("run with a cancelled context succeeded")
	}
}

func TestWorkloadDisassembles(t *testing.T) {
	v, err := vm.NewVM(vm.DefaultOptions())
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	w, err := newWorkload(v)
	if err != nil {
		t.Fatalf("newWorkload: %v", err)
	}
	listing := v.Instructions().Disassemble(w.code.Bytecode)
	for _, op := range []string{"cast_multi_value", "run_exception", "call_unit", "checkpoint"} {
		if !strings.Contains(listing, op) {
			t.Errorf("listing has no %s:\n%s", op, listing)
		}
	}
}
