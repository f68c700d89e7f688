package vm

// State is the lifecycle state of a VM handle. Transitions are one-way:
// Created -> Initialized -> Loaded -> Running -> Stopped.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateLoaded
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitialized:
		return "Initialized"
	case StateLoaded:
		return "Loaded"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Mode selects how the host's threading model integrates with the guest.
type Mode int32

const (
	// ModeDirect executes every guest call, including the entry point,
	// synchronously on whatever goroutine invokes it. The host must never
	// call concurrently from two goroutines; this is not enforced.
	ModeDirect Mode = iota

	// ModeThreaded defers guest execution to a dedicated worker pinned to
	// one OS thread. The worker is the only thread that ever enters the
	// guest, so the single-owner invariant holds structurally no matter
	// how many goroutines submit work.
	ModeThreaded
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "Direct"
	case ModeThreaded:
		return "Threaded"
	default:
		return "Unknown"
	}
}

// WorkerState tracks the dedicated worker in Threaded mode.
type WorkerState int32

const (
	WorkerNotStarted WorkerState = iota
	WorkerRunning
	WorkerStopRequested
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerNotStarted:
		return "NotStarted"
	case WorkerRunning:
		return "Running"
	case WorkerStopRequested:
		return "StopRequested"
	case WorkerStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
