// Package vmlink embeds a single-threaded, garbage-collected guest VM in a
// multithreaded Go host.
//
// The guest runtime assumes one owning thread at a time. vmlink enforces
// that assumption structurally: in Threaded mode a dedicated worker owns the
// guest and every call travels through a FIFO message queue; in Direct mode
// the host promises to make all calls from one goroutine itself.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	vmlink/              Root package with this overview
//	├── vm/              Lifecycle, worker, call bridges, pump, roots, blocking guard
//	├── guest/           Executor contract the vm package drives
//	│   └── guesttest/   Scriptable fake executor for tests and demos
//	├── engine/          wazero-backed guest.Executor for WebAssembly guests
//	├── rootset/         GC root registry for host storage slots
//	├── errors/          Structured error types with phase and kind
//	└── cmd/vmlink/      CLI for running guests and the scripted demo
//
// # Quick Start
//
// Drive a guest behind a worker:
//
//	v, err := vm.New(exec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Destroy(ctx)
//
//	v.SetMode(vm.ModeThreaded)
//	v.Initialize(ctx, nil)
//	v.Load(ctx, source)
//	v.StartWorker()
//
//	result, err := v.CallSync(ctx, "compute", int64(7))
//
// # Lifecycle
//
// A handle moves Created -> Initialized -> Loaded -> Running -> Stopped,
// strictly forward. Out-of-order transitions fail with an invalid_state
// error. Destroy is terminal and valid once per process: the guest runtime
// cannot be reinitialized after teardown, so a destroyed process cannot
// create another handle.
//
// # Thread Safety
//
// The VM handle's control surface (lifecycle, stats, roots, blocking guard)
// is safe for concurrent use. The guest itself is not; CallSync and
// CallAsync are safe from any goroutine precisely because the worker
// serializes them onto the owning thread.
package vmlink
