package vm

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
	"github.com/vmlink/vmlink/rootset"
)

// Process-scoped guard. The guest runtime cannot be safely reinitialized
// in-process after teardown, so once any handle has been destroyed, New is
// rejected for the remainder of the process.
var (
	processMu        sync.Mutex
	processLive      *VM
	processDestroyed bool
)

// VM is the handle for one embedding session. Exactly one exists per
// process; it is created once and destroyed once.
//
// The handle's mutable fields (state, last error) are written only by
// whichever goroutine currently owns the guest and read by others under the
// handle's lock.
type VM struct {
	exec guest.Executor
	log  *zap.Logger

	mu           sync.Mutex
	state        State
	mode         Mode
	lastErr      string
	worker       *worker
	workerJoined bool // a worker ran and was stopped; restart is rejected
	destroyed    bool

	roots    *rootset.Registry
	queueCap int

	blockMu    sync.Mutex
	blockDepth int

	executed atomic.Int64
	pumps    atomic.Int64
}

// New creates the process's VM handle around the given guest executor.
// It fails if a live handle already exists or if a previous handle was
// destroyed: the guest cannot be recreated in-process.
func New(exec guest.Executor, opts ...Option) (*VM, error) {
	if exec == nil {
		return nil, errors.InvalidInput(errors.PhaseLifecycle, "nil executor")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	processMu.Lock()
	defer processMu.Unlock()

	if processDestroyed {
		return nil, errors.InvalidState(errors.PhaseLifecycle, "Stopped", "a fresh process")
	}
	if processLive != nil {
		return nil, errors.InvalidState(errors.PhaseLifecycle, "a live handle", "no existing handle")
	}

	var pinner guest.RootPinner
	if p, ok := exec.(guest.RootPinner); ok {
		pinner = p
	}

	v := &VM{
		exec:     exec,
		log:      cfg.logger,
		state:    StateCreated,
		mode:     ModeDirect,
		roots:    rootset.NewRegistry(pinner),
		queueCap: cfg.queueCapacity,
	}
	processLive = v
	return v, nil
}

// SetMode selects the integration mode. Valid only before Initialize.
func (v *VM) SetMode(mode Mode) error {
	if mode != ModeDirect && mode != ModeThreaded {
		return errors.InvalidInput(errors.PhaseMode, "unknown mode")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateCreated {
		return errors.ModeMismatch(errors.PhaseMode, "mode must be set before Initialize")
	}
	v.mode = mode
	return nil
}

// Mode returns the integration mode.
func (v *VM) Mode() Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// State returns the lifecycle state.
func (v *VM) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Initialize brings up the guest runtime. Requires state Created.
func (v *VM) Initialize(ctx context.Context, args []string) error {
	v.mu.Lock()
	if v.state != StateCreated {
		defer v.mu.Unlock()
		return errors.InvalidState(errors.PhaseLifecycle, v.state.String(), StateCreated.String())
	}
	v.mu.Unlock()

	if err := v.exec.Initialize(ctx, args); err != nil {
		v.setLastError(err.Error())
		return errors.New(errors.PhaseLifecycle, errors.KindInvalidInput).
			Cause(err).
			Detail("initialize guest").
			Build()
	}

	v.mu.Lock()
	v.state = StateInitialized
	v.mu.Unlock()

	v.log.Debug("guest initialized", zap.Strings("args", args))
	return nil
}

// Load parses guest bytecode. Requires state Initialized.
func (v *VM) Load(ctx context.Context, source []byte) error {
	v.mu.Lock()
	if v.state != StateInitialized {
		defer v.mu.Unlock()
		return errors.InvalidState(errors.PhaseLifecycle, v.state.String(), StateInitialized.String())
	}
	v.mu.Unlock()

	if len(source) == 0 {
		return errors.InvalidInput(errors.PhaseLoad, "empty source")
	}

	if err := v.exec.Load(ctx, source); err != nil {
		v.setLastError(err.Error())
		return errors.Load("load guest bytecode", err)
	}

	v.mu.Lock()
	v.state = StateLoaded
	v.mu.Unlock()

	v.log.Debug("guest bytecode loaded", zap.Int("bytes", len(source)))
	return nil
}

// CallEntry invokes the loaded program's entry point on the calling
// goroutine. Direct mode only: in Threaded mode the worker performs it
// implicitly on start.
//
// The entry point must return control by contract. A guest program that
// enters its own blocking service loop hangs the caller; that is not
// detectable by this layer.
func (v *VM) CallEntry(ctx context.Context) error {
	v.mu.Lock()
	if v.mode != ModeDirect {
		defer v.mu.Unlock()
		return errors.ModeMismatch(errors.PhaseLifecycle, "CallEntry is Direct-mode only; StartWorker runs the entry point in Threaded mode")
	}
	if v.state != StateLoaded {
		defer v.mu.Unlock()
		return errors.InvalidState(errors.PhaseLifecycle, v.state.String(), StateLoaded.String())
	}
	v.mu.Unlock()

	if err := v.exec.CallEntry(ctx); err != nil {
		v.setLastError(err.Error())
		return v.wrapCallError("<entry>", err)
	}

	v.mu.Lock()
	v.state = StateRunning
	v.mu.Unlock()

	v.log.Debug("guest entry point returned")
	return nil
}

// Destroy tears down the guest. Terminal and valid exactly once per
// process: after Destroy, calls on this handle fail with InvalidState and
// New is rejected for the rest of the process.
//
// A still-running worker is stopped and joined first.
func (v *VM) Destroy(ctx context.Context) error {
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return errors.InvalidState(errors.PhaseLifecycle, StateStopped.String(), "an undestroyed handle")
	}
	w := v.worker
	mode := v.mode
	v.mu.Unlock()

	if mode == ModeThreaded && w != nil && w.State() != WorkerStopped {
		v.log.Debug("destroy stopping worker")
		if err := v.StopWorker(); err != nil {
			v.log.Warn("stop worker during destroy", zap.Error(err))
		}
	}

	v.roots.Clear()

	err := v.exec.Close(ctx)
	if err != nil {
		v.setLastError(err.Error())
	}

	v.mu.Lock()
	v.state = StateStopped
	v.destroyed = true
	v.mu.Unlock()

	processMu.Lock()
	processLive = nil
	processDestroyed = true
	processMu.Unlock()

	v.log.Debug("guest destroyed")
	if err != nil {
		return errors.New(errors.PhaseLifecycle, errors.KindInvalidState).
			Cause(err).
			Detail("close guest").
			Build()
	}
	return nil
}

// Roots returns the GC root registry for this handle.
func (v *VM) Roots() *rootset.Registry {
	return v.roots
}

// RootAdd registers a host storage slot as a live GC root.
func (v *VM) RootAdd(slot any) error {
	return v.roots.Add(slot)
}

// RootRemove unregisters a host storage slot. A no-op if not registered.
func (v *VM) RootRemove(slot any) {
	v.roots.Remove(slot)
}

// LastError returns the most recent error text recorded on the handle, or
// "" if none. Pump failures surface here rather than as return values.
func (v *VM) LastError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

func (v *VM) setLastError(text string) {
	v.mu.Lock()
	v.lastErr = text
	v.mu.Unlock()
}

// clearLastError resets the last-error slot.
func (v *VM) clearLastError() {
	v.setLastError("")
}

// wrapCallError maps an executor call failure onto the core's error model:
// a guest.Exception means the target executed and raised; structured errors
// pass through; anything else is reported as a guest exception carrying the
// executor's last-exception text.
func (v *VM) wrapCallError(target string, err error) error {
	if exc, ok := err.(*guest.Exception); ok {
		return errors.GuestException(errors.PhaseCall, target, exc.Message, err)
	}
	if structured, ok := err.(*errors.Error); ok {
		return structured
	}
	text := v.exec.LastException()
	if text == "" {
		text = err.Error()
	}
	return errors.GuestException(errors.PhaseCall, target, text, err)
}

// Stats is a point-in-time snapshot of the handle, for monitoring.
type Stats struct {
	State         State
	Mode          Mode
	Worker        WorkerState
	QueueDepth    int
	QueueCapacity int
	Executed      int64
	Pumps         int64
	Roots         int
	BlockingDepth int
}

// Stats returns a snapshot of the handle's observable state.
func (v *VM) Stats() Stats {
	v.mu.Lock()
	state, mode, w := v.state, v.mode, v.worker
	v.mu.Unlock()

	s := Stats{
		State:         state,
		Mode:          mode,
		Worker:        WorkerNotStarted,
		QueueCapacity: v.queueCap,
		Executed:      v.executed.Load(),
		Pumps:         v.pumps.Load(),
		Roots:         v.roots.Len(),
	}
	if w != nil {
		s.Worker = w.State()
		s.QueueDepth = len(w.queue)
	}

	v.blockMu.Lock()
	s.BlockingDepth = v.blockDepth
	v.blockMu.Unlock()

	return s
}
