package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ebrahimk/rubinius/vm"
)

// workload is a compiled loop that allocates on every iteration:
//
//	sum = 0
//	for i := 0; i < n; i++ {
//	    a, = i                          # cast_multi_value
//	    sum = sum + [a].size + unit(i)  # unit: 1 for integers, else 0
//	    checkpoint
//	}
//	return sum
type workload struct {
	vm        *vm.VM
	exec      vm.Value
	code      *vm.CompiledCode
	finalized atomic.Int64
}

func newWorkload(v *vm.VM) (*workload, error) {
	isInt, err := v.NewKindOfUnit(v.Classes().Integer, 0)
	if err != nil {
		return nil, err
	}
	one, err := v.NewConstantValueUnit(vm.FromSmallInt(1))
	if err != nil {
		return nil, err
	}
	zero, err := v.NewConstantValueUnit(vm.FromSmallInt(0))
	if err != nil {
		return nil, err
	}
	unit, err := v.NewTestUnit(isInt, one, zero)
	if err != nil {
		return nil, err
	}

	const (
		litLess = iota
		litSize
		litUnit
		litPlus
	)
	const (
		locN = iota
		locI
		locSum
	)

	b := vm.NewBytecodeBuilder(v.Instructions())
	loop, done := b.NewLabel(), b.NewLabel()
	b.Emit(vm.OpPushInt, 0).Emit(vm.OpSetLocal, locI).Emit(vm.OpPop)
	b.Emit(vm.OpPushInt, 0).Emit(vm.OpSetLocal, locSum).Emit(vm.OpPop)
	b.Mark(loop)
	b.Emit(vm.OpPushLocal, locI).Emit(vm.OpPushLocal, locN).Emit(vm.OpSend, litLess, 1)
	b.EmitJump(vm.OpGotoIfFalse, done)
	b.Emit(vm.OpPushLocal, locSum)
	b.Emit(vm.OpPushLocal, locI).Emit(vm.OpCastMultiValue).Emit(vm.OpRunException)
	b.Emit(vm.OpMakeArray, 1).Emit(vm.OpSend, litSize, 0)
	b.Emit(vm.OpSend, litPlus, 1)
	b.Emit(vm.OpPushSelf).Emit(vm.OpPushLocal, locI).Emit(vm.OpCallUnit, litUnit, 1)
	b.Emit(vm.OpSend, litPlus, 1)
	b.Emit(vm.OpSetLocal, locSum).Emit(vm.OpPop)
	b.Emit(vm.OpCheckpoint)
	b.Emit(vm.OpPushLocal, locI).Emit(vm.OpPushInt, 1).Emit(vm.OpSend, litPlus, 1)
	b.Emit(vm.OpSetLocal, locI).Emit(vm.OpPop)
	b.EmitJump(vm.OpGoto, loop)
	b.Mark(done)
	b.Emit(vm.OpPushLocal, locSum).Emit(vm.OpRet)

	code := &vm.CompiledCode{Name: "churn", Bytecode: b.Bytes(), Arity: 1, Locals: 3}
	exec, err := v.NewCompiledCode(code, v.Symbol("<"), v.Symbol("size"), unit, v.Symbol("+"))
	if err != nil {
		return nil, err
	}
	v.SetConstant("Churn", exec)
	return &workload{vm: v, exec: exec, code: code}, nil
}

// run executes the loop on each of workers threads and returns each
// thread's final sum.
func (w *workload) run(ctx context.Context, workers, n, rounds int) ([]int64, error) {
	results := make([]int64, workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			thr := w.vm.NewThread(fmt.Sprintf("worker-%d", i))
			defer thr.Close()
			thr.Enter()
			defer thr.Leave()

			for r := 0; r < rounds; r++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				args := vm.NewArguments(w.vm.Symbol("churn"), vm.Nil, vm.FromSmallInt(int64(n)))
				result, err := thr.Execute(w.exec, vm.Nil, args)
				if err != nil {
					return fmt.Errorf("%s round %d: %w", thr.Name(), r, err)
				}
				if !result.IsSmallInt() {
					return fmt.Errorf("%s round %d: unexpected result %v", thr.Name(), r, result)
				}
				results[i] = result.SmallInt()
				if err := w.keep(result); err != nil {
					return err
				}
			}
			log.Debugf("%s: done", thr.Name())
			return nil
		})
	}
	return results, g.Wait()
}

// keep boxes result and attaches a finalizer handle to the box, which the
// next collection after the workers finish reclaims.
func (w *workload) keep(result vm.Value) error {
	box, err := w.vm.NewArray(result)
	if err != nil {
		return err
	}
	w.vm.Memory().Handles().NewFinalizer(box, func(vm.Value) {
		w.finalized.Add(1)
	})
	return nil
}
