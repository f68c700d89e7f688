// Package vm is the concurrency and lifecycle core for embedding a
// single-threaded, garbage-collected guest runtime in a Go host.
//
// The guest is not reentrant: exactly one thread may execute guest code at
// any instant, and its collector must know which threads hold live heap
// references. This package lets arbitrary goroutines schedule guest calls
// without ever violating that invariant.
//
// # Lifecycle
//
//	exec, _ := engine.New(ctx, nil)       // or any guest.Executor
//	v, err := vm.New(exec)
//	v.SetMode(vm.ModeThreaded)            // before Initialize
//	v.Initialize(ctx, nil)
//	v.Load(ctx, bytecode)
//	v.StartWorker()                       // runs the entry point, serves calls
//	defer v.Destroy(ctx)
//
// States move one way: Created -> Initialized -> Loaded -> Running ->
// Stopped. Out-of-order transitions fail with invalid_state. Destroy is
// terminal; the guest cannot be reinitialized in-process, so vm.New is
// rejected for the rest of the process after any handle is destroyed.
//
// # Calling into the guest
//
// Threaded mode (the safe default for multithreaded hosts):
//
//	result, err := v.CallSync(ctx, "update", payload)
//
//	v.CallAsync(ctx, "compute", 7, func(result any, err error) {
//	    // runs on the worker, exactly once
//	})
//
// Direct mode executes calls inline on the calling goroutine; the host owns
// the single-caller contract.
//
// # Event pump
//
// v.Pump() polls the guest's two pending-work sources (async I/O, native
// timers) once, non-blockingly. It never fails; per-item errors land in
// v.LastError().
//
// # GC coordination
//
// v.RootAdd/RootRemove keep guest values referenced from host storage alive
// across calls. v.BlockingBegin/BlockingEnd bracket long external blocking
// work so the guest's collector does not stall on an idle thread.
package vm
