package vm

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
)

type requestKind int

const (
	requestSync requestKind = iota
	requestAsync
	requestPump
)

type callResult struct {
	value any
	err   error
}

// callRequest is one unit of guest work: produced by any goroutine,
// consumed exactly once by the worker, then discarded.
type callRequest struct {
	kind     requestKind
	target   string
	payload  any
	done     chan callResult // Sync: buffered one-shot completion signal
	complete CompleteFunc    // Async: invoked from the worker
}

// worker owns the guest in Threaded mode. Exactly one consumer goroutine,
// pinned to its OS thread, drains the queue; that structure alone enforces
// the single-owner-thread invariant regardless of producer count.
type worker struct {
	vm     *VM
	queue  chan *callRequest
	stopCh chan struct{}
	done   chan struct{}

	state    atomic.Int32 // WorkerState
	stopOnce sync.Once

	// submitMu orders producers against stop: a submit that observed
	// WorkerRunning finishes its send before the stop request proceeds,
	// so every accepted request is either served or failed by the drain.
	submitMu sync.RWMutex
}

func newWorker(v *VM) *worker {
	w := &worker{
		vm:     v,
		queue:  make(chan *callRequest, v.queueCap),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.state.Store(int32(WorkerRunning))
	return w
}

// State returns the worker's lifecycle state.
func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// submit enqueues a request without blocking.
func (w *worker) submit(req *callRequest) error {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	if w.State() != WorkerRunning {
		return errors.WorkerNotRunning(errors.PhaseCall)
	}
	select {
	case w.queue <- req:
		return nil
	default:
		return errors.QueueRejected("queue full")
	}
}

// requestStop flips the worker to StopRequested and wakes the loop.
// Safe to call more than once.
func (w *worker) requestStop() {
	w.submitMu.Lock()
	w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopRequested))
	w.submitMu.Unlock()

	w.stopOnce.Do(func() { close(w.stopCh) })
}

// run is the worker main loop. It registers the current OS thread with the
// guest's collector, runs the entry point, then consumes requests until a
// stop is requested. An already-dequeued request finishes; everything still
// queued at stop fails with "worker stopping".
func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	if reg, ok := w.vm.exec.(guest.ThreadRegistrar); ok {
		reg.RegisterThread()
		defer reg.UnregisterThread()
	}

	ctx := context.Background()
	w.vm.log.Debug("worker started")

	if err := w.vm.exec.CallEntry(ctx); err != nil {
		w.vm.setLastError(err.Error())
		w.vm.log.Warn("guest entry point failed", zap.Error(err))
	} else {
		w.vm.log.Debug("guest entry point returned")
	}

	for w.State() == WorkerRunning {
		select {
		case req := <-w.queue:
			if w.State() != WorkerRunning {
				w.fail(req, errors.QueueRejected("worker stopping"))
				continue
			}
			w.serve(ctx, req)
		case <-w.stopCh:
		}
	}

	for {
		select {
		case req := <-w.queue:
			w.fail(req, errors.QueueRejected("worker stopping"))
		default:
			w.state.Store(int32(WorkerStopped))
			w.vm.log.Debug("worker stopped")
			return
		}
	}
}

func (w *worker) serve(ctx context.Context, req *callRequest) {
	if req.kind == requestPump {
		w.vm.pumpOwned(ctx)
		return
	}
	value, err := w.vm.callOwned(ctx, req.target, req.payload)
	w.deliver(req, value, err)
}

func (w *worker) fail(req *callRequest, err error) {
	w.deliver(req, nil, err)
}

func (w *worker) deliver(req *callRequest, value any, err error) {
	switch req.kind {
	case requestSync:
		req.done <- callResult{value: value, err: err}
	case requestAsync:
		if req.complete != nil {
			req.complete(value, err)
		}
	case requestPump:
		// Fire-and-forget; a failed pump already went to last-error.
	}
}

// StartWorker spawns the dedicated worker. Threaded mode only, requires
// state Loaded. The worker registers with the guest's collector, runs the
// entry point, then serves the queue. A stopped worker cannot be restarted:
// the guest's collector does not survive losing its registered thread.
func (v *VM) StartWorker() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mode != ModeThreaded {
		return errors.ModeMismatch(errors.PhaseWorker, "StartWorker requires Threaded mode")
	}
	if v.worker != nil && v.worker.State() == WorkerRunning {
		return errors.InvalidState(errors.PhaseWorker, WorkerRunning.String(), "a never-started worker")
	}
	if v.workerJoined || v.worker != nil {
		return errors.InvalidState(errors.PhaseWorker, WorkerStopped.String(), "a never-started worker (restart is unsupported)")
	}
	if v.state != StateLoaded {
		return errors.InvalidState(errors.PhaseWorker, v.state.String(), StateLoaded.String())
	}

	w := newWorker(v)
	v.worker = w
	v.state = StateRunning
	go w.run()
	return nil
}

// StopWorker posts a stop request, lets the in-flight request finish, fails
// everything still queued, and joins the worker. Idempotent once stopped.
func (v *VM) StopWorker() error {
	v.mu.Lock()
	if v.mode != ModeThreaded {
		v.mu.Unlock()
		return errors.ModeMismatch(errors.PhaseWorker, "StopWorker requires Threaded mode")
	}
	w := v.worker
	v.mu.Unlock()

	if w == nil {
		return errors.WorkerNotRunning(errors.PhaseWorker)
	}

	w.requestStop()
	<-w.done

	v.mu.Lock()
	v.workerJoined = true
	v.mu.Unlock()
	return nil
}

// WorkerRunning reports whether the dedicated worker is accepting requests.
func (v *VM) WorkerRunning() bool {
	v.mu.Lock()
	w := v.worker
	v.mu.Unlock()
	return w != nil && w.State() == WorkerRunning
}

// callOwned invokes a guest target on the calling goroutine. The caller
// must own the guest (the worker, or the host's thread in Direct mode).
func (v *VM) callOwned(ctx context.Context, target string, payload any) (any, error) {
	value, err := v.exec.Call(ctx, target, payload)
	if err == nil {
		v.executed.Add(1)
		return value, nil
	}

	v.setLastError(err.Error())
	if _, executed := err.(*guest.Exception); executed {
		v.executed.Add(1)
	}
	return nil, v.wrapCallError(target, err)
}
