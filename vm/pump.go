package vm

import (
	"context"

	"go.uber.org/zap"

	"github.com/vmlink/vmlink/guest"
)

// pumpSources fixes the polling order: both sources are always polled,
// whether or not the loaded program uses either.
var pumpSources = [...]guest.SourceKind{guest.SourceAsyncIO, guest.SourceTimers}

// Pump polls both of the guest's pending-work sources once and returns.
// It never blocks and never fails: a failure processing one pending item is
// recorded in the handle's last-error slot and does not block the other
// source or the remaining items of the same call.
//
// Direct mode polls inline on the calling goroutine. Threaded mode hands
// the poll to the worker as a fire-and-forget request, since only the
// worker may enter the guest; a rejected handoff also goes to last-error.
func (v *VM) Pump() {
	v.mu.Lock()
	mode, state, w := v.mode, v.state, v.worker
	v.mu.Unlock()

	if state != StateRunning {
		return
	}

	if mode == ModeThreaded {
		if w == nil {
			return
		}
		if err := w.submit(&callRequest{kind: requestPump}); err != nil {
			v.setLastError(err.Error())
		}
		return
	}

	v.pumpOwned(context.Background())
}

// pumpOwned performs the actual polling. The caller must own the guest.
func (v *VM) pumpOwned(ctx context.Context) {
	for _, kind := range pumpSources {
		src := v.exec.EventSource(kind)
		if src == nil {
			continue
		}
		if err := src.PollOnce(ctx); err != nil {
			v.setLastError(err.Error())
			v.log.Debug("pump source failed",
				zap.String("source", src.Name()),
				zap.Error(err))
		}
	}
	v.pumps.Add(1)
}

// HasPendingWork conservatively reports whether work is known to be
// waiting. Queued requests are visible to the host; pending items inside
// the guest's own sources are not queryable without entering the guest, so
// a false result does not prove the guest is idle.
func (v *VM) HasPendingWork() bool {
	v.mu.Lock()
	w := v.worker
	v.mu.Unlock()
	return w != nil && len(w.queue) > 0
}
