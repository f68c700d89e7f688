package guest

import (
	"context"
	"fmt"
)

// SourceKind identifies one of the guest's independently pollable
// pending-work sources.
type SourceKind int

const (
	// SourceAsyncIO is the guest's async I/O loop (sockets, files, pipes).
	SourceAsyncIO SourceKind = iota
	// SourceTimers is the guest's native timer/callback loop.
	SourceTimers
)

func (k SourceKind) String() string {
	switch k {
	case SourceAsyncIO:
		return "async_io"
	case SourceTimers:
		return "timers"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Executor is the opaque guest virtual machine consumed by the embedding
// core. Implementations are NOT safe for concurrent use: the core guarantees
// at most one goroutine is inside any Executor method at a time.
type Executor interface {
	// Initialize brings up the guest runtime with the given arguments.
	Initialize(ctx context.Context, args []string) error

	// Load parses and prepares guest bytecode for execution.
	Load(ctx context.Context, source []byte) error

	// CallEntry invokes the loaded program's entry point. The entry point
	// must return control to the caller; a guest program that enters its
	// own blocking service loop hangs the calling thread.
	CallEntry(ctx context.Context) error

	// Call invokes a guest callable by name with an opaque payload. A
	// returned *Exception means the target executed and raised; any other
	// error means the call could not be dispatched.
	Call(ctx context.Context, target string, payload any) (any, error)

	// LastException returns the guest's most recent error/exception text,
	// or "" if none.
	LastException() string

	// EventSource returns the pollable source of the given kind, or nil if
	// the guest exposes none of that kind.
	EventSource(kind SourceKind) EventSource

	// Close tears down the guest runtime. Not safely repeatable.
	Close(ctx context.Context) error
}

// EventSource is one independently pollable channel of pending guest work.
type EventSource interface {
	Name() string

	// PollOnce processes currently-ready work and returns. It never blocks
	// waiting for new work; with nothing pending it is a cheap no-op.
	PollOnce(ctx context.Context) error
}

// Exception is returned by Executor.Call when the target executed but the
// guest raised. It is distinct from dispatch failures: the guest's side
// effects up to the raise point are visible.
type Exception struct {
	Message string
}

func (e *Exception) Error() string {
	return "guest exception: " + e.Message
}

// Optional executor capabilities, discovered by type assertion.

// RootPinner is implemented by executors whose collector must be told about
// guest values referenced from host-owned storage.
type RootPinner interface {
	PinRoot(slot any) error
	UnpinRoot(slot any)
}

// ThreadRegistrar is implemented by executors whose collector tracks which
// OS threads may hold guest heap pointers. The worker calls RegisterThread
// on loop entry and UnregisterThread on exit, from the worker thread itself.
type ThreadRegistrar interface {
	RegisterThread()
	UnregisterThread()
}

// BlockingNotifier is implemented by executors whose collector should not
// wait on threads performing long external blocking work. The blocking
// guard forwards depth transitions 0->1 and 1->0.
type BlockingNotifier interface {
	EnterBlocking()
	LeaveBlocking()
}
