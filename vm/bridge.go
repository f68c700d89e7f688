package vm

import (
	"context"

	"github.com/vmlink/vmlink/errors"
)

// CompleteFunc receives the outcome of an asynchronous call. err is nil on
// success, a guest_exception error when the target executed and raised, or
// a queue_rejected error when the worker stopped before executing it.
type CompleteFunc func(result any, err error)

// CallSync invokes a guest target and blocks until the result is available.
//
// Threaded mode: the request is queued for the worker and the caller parks
// on a per-request completion signal. The target executes exactly once, or
// the call fails with zero executions (worker_not_running, queue_rejected).
//
// Direct mode: the target executes inline on the calling goroutine.
//
// There is no built-in timeout: the guest offers no preemption point, so an
// in-flight call cannot be safely interrupted. A caller that races ctx
// against the call gets ctx.Err() back, but the request stays queued and
// may still execute afterward.
func (v *VM) CallSync(ctx context.Context, target string, payload any) (any, error) {
	if target == "" {
		return nil, errors.InvalidInput(errors.PhaseCall, "empty target")
	}

	v.mu.Lock()
	mode, state, w := v.mode, v.state, v.worker
	v.mu.Unlock()

	if mode == ModeDirect {
		if state != StateRunning {
			return nil, errors.InvalidState(errors.PhaseCall, state.String(), StateRunning.String())
		}
		return v.callOwned(ctx, target, payload)
	}

	if w == nil {
		return nil, errors.WorkerNotRunning(errors.PhaseCall)
	}

	req := &callRequest{
		kind:    requestSync,
		target:  target,
		payload: payload,
		done:    make(chan callResult, 1),
	}
	if err := w.submit(req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallAsync queues a guest call and returns immediately. onComplete fires
// exactly once per accepted request, from the worker's completion step,
// after the target finished (success or exception). If CallAsync itself
// returns an error the request was never accepted and onComplete is never
// invoked.
//
// Direct mode: the target executes inline and onComplete is invoked before
// CallAsync returns.
func (v *VM) CallAsync(ctx context.Context, target string, payload any, onComplete CompleteFunc) error {
	if target == "" {
		return errors.InvalidInput(errors.PhaseCall, "empty target")
	}

	v.mu.Lock()
	mode, state, w := v.mode, v.state, v.worker
	v.mu.Unlock()

	if mode == ModeDirect {
		if state != StateRunning {
			return errors.InvalidState(errors.PhaseCall, state.String(), StateRunning.String())
		}
		value, err := v.callOwned(ctx, target, payload)
		if onComplete != nil {
			onComplete(value, err)
		}
		return nil
	}

	if w == nil {
		return errors.WorkerNotRunning(errors.PhaseCall)
	}

	return w.submit(&callRequest{
		kind:     requestAsync,
		target:   target,
		payload:  payload,
		complete: onComplete,
	})
}
