package guesttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
)

// TargetFunc is a scripted guest callable.
type TargetFunc func(payload any) (any, error)

// Fake is a scriptable in-memory guest executor for tests and demos.
//
// It verifies the core's single-owner-thread invariant: every method that
// represents "being inside the guest" trips a reentrancy detector, and any
// overlap is reported through Violations.
type Fake struct {
	mu      sync.Mutex
	targets map[string]TargetFunc
	sources [2]*FakeSource

	inside     atomic.Int32
	violations atomic.Int64
	calls      atomic.Int64

	initialized bool
	loaded      bool
	entryCalled bool
	closed      bool

	lastException atomic.Value // string

	// EntryFunc, when set, runs during CallEntry.
	EntryFunc func() error
	// InitErr and LoadErr, when set, fail the corresponding lifecycle step.
	InitErr error
	LoadErr error
}

// NewFake creates a fake executor with both event sources present and no
// registered targets.
func NewFake() *Fake {
	f := &Fake{
		targets: make(map[string]TargetFunc),
	}
	f.sources[guest.SourceAsyncIO] = &FakeSource{name: "async_io", parent: f}
	f.sources[guest.SourceTimers] = &FakeSource{name: "timers", parent: f}
	f.lastException.Store("")
	return f
}

// Register scripts a guest callable.
func (f *Fake) Register(target string, fn TargetFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[target] = fn
}

// RegisterCounter scripts a target that increments a shared counter and
// returns its new value. Deliberately non-atomic: lost updates surface any
// violation of the single-owner-thread invariant.
func (f *Fake) RegisterCounter(target string) *int64 {
	counter := new(int64)
	f.Register(target, func(payload any) (any, error) {
		*counter = *counter + 1
		return *counter, nil
	})
	return counter
}

// DropSource removes an event source so pump no-op behavior can be tested.
func (f *Fake) DropSource(kind guest.SourceKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[kind] = nil
}

// Source returns the fake event source of the given kind for scripting.
func (f *Fake) Source(kind guest.SourceKind) *FakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[kind]
}

// Calls reports how many target executions happened.
func (f *Fake) Calls() int64 { return f.calls.Load() }

// Violations reports how many times two threads were inside the guest at once.
func (f *Fake) Violations() int64 { return f.violations.Load() }

// EntryCalled reports whether CallEntry ran.
func (f *Fake) EntryCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entryCalled
}

// Closed reports whether Close ran.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) enter() {
	if f.inside.Add(1) != 1 {
		f.violations.Add(1)
	}
}

func (f *Fake) leave() {
	f.inside.Add(-1)
}

// Initialize implements guest.Executor.
func (f *Fake) Initialize(ctx context.Context, args []string) error {
	f.enter()
	defer f.leave()

	if f.InitErr != nil {
		return f.InitErr
	}
	f.mu.Lock()
	f.initialized = true
	f.mu.Unlock()
	return nil
}

// Load implements guest.Executor.
func (f *Fake) Load(ctx context.Context, source []byte) error {
	f.enter()
	defer f.leave()

	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.mu.Lock()
	f.loaded = true
	f.mu.Unlock()
	return nil
}

// CallEntry implements guest.Executor.
func (f *Fake) CallEntry(ctx context.Context) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.entryCalled = true
	f.mu.Unlock()

	if f.EntryFunc != nil {
		return f.EntryFunc()
	}
	return nil
}

// Call implements guest.Executor.
func (f *Fake) Call(ctx context.Context, target string, payload any) (any, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	fn, ok := f.targets[target]
	f.mu.Unlock()

	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "target", target)
	}

	f.calls.Add(1)
	result, err := fn(payload)
	if err != nil {
		f.lastException.Store(err.Error())
		if _, isExc := err.(*guest.Exception); isExc {
			return nil, err
		}
		return nil, &guest.Exception{Message: err.Error()}
	}
	return result, nil
}

// LastException implements guest.Executor.
func (f *Fake) LastException() string {
	return f.lastException.Load().(string)
}

// EventSource implements guest.Executor.
func (f *Fake) EventSource(kind guest.SourceKind) guest.EventSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.sources[kind]
	if src == nil {
		return nil
	}
	return src
}

// Close implements guest.Executor.
func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FakeSource is a scriptable event source. Pending work items are closures
// queued with Add; PollOnce drains whatever is queued at entry and no more.
// Polling counts as being inside the guest for violation detection.
type FakeSource struct {
	mu      sync.Mutex
	name    string
	parent  *Fake
	pending []func() error
	polls   atomic.Int64
}

// Add queues one pending work item.
func (s *FakeSource) Add(item func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, item)
}

// Polls reports how many times PollOnce ran.
func (s *FakeSource) Polls() int64 { return s.polls.Load() }

// Name implements guest.EventSource.
func (s *FakeSource) Name() string { return s.name }

// PollOnce implements guest.EventSource.
func (s *FakeSource) PollOnce(ctx context.Context) error {
	if s.parent != nil {
		s.parent.enter()
		defer s.parent.leave()
	}
	s.polls.Add(1)

	s.mu.Lock()
	items := s.pending
	s.pending = nil
	s.mu.Unlock()

	var firstErr error
	for _, item := range items {
		if err := item(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
