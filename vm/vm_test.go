package vm

import (
	"context"
	"fmt"
	"testing"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
	"github.com/vmlink/vmlink/guest/guesttest"
)

// newTestVM builds a handle around exec, resetting the process guard so
// tests stay independent.
func newTestVM(t *testing.T, exec guest.Executor, opts ...Option) *VM {
	t.Helper()
	resetProcessState()
	t.Cleanup(resetProcessState)

	v, err := New(exec, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

// runningDirect advances a handle to Running in Direct mode.
func runningDirect(t *testing.T, fake *guesttest.Fake) *VM {
	t.Helper()
	ctx := context.Background()

	v := newTestVM(t, fake)
	if err := v.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := v.Load(ctx, []byte("bytecode")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := v.CallEntry(ctx); err != nil {
		t.Fatalf("CallEntry failed: %v", err)
	}
	return v
}

// runningThreaded advances a handle to Running in Threaded mode with a live
// worker, and stops it at cleanup.
func runningThreaded(t *testing.T, exec guest.Executor, opts ...Option) *VM {
	t.Helper()
	ctx := context.Background()

	v := newTestVM(t, exec, opts...)
	if err := v.SetMode(ModeThreaded); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if err := v.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := v.Load(ctx, []byte("bytecode")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := v.StartWorker(); err != nil {
		t.Fatalf("StartWorker failed: %v", err)
	}
	t.Cleanup(func() {
		if v.WorkerRunning() {
			_ = v.StopWorker()
		}
	})
	return v
}

func TestLifecycleDirect(t *testing.T) {
	ctx := context.Background()
	fake := guesttest.NewFake()
	fake.Register("echo", func(payload any) (any, error) { return payload, nil })

	v := newTestVM(t, fake)
	if v.State() != StateCreated {
		t.Fatalf("state = %v, want Created", v.State())
	}

	if err := v.Initialize(ctx, []string{"-v"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if v.State() != StateInitialized {
		t.Fatalf("state = %v, want Initialized", v.State())
	}

	if err := v.Load(ctx, []byte("bytecode")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := v.CallEntry(ctx); err != nil {
		t.Fatalf("CallEntry failed: %v", err)
	}
	if !fake.EntryCalled() {
		t.Fatal("entry point did not run")
	}
	if v.State() != StateRunning {
		t.Fatalf("state = %v, want Running", v.State())
	}

	got, err := v.CallSync(ctx, "echo", 42)
	if err != nil {
		t.Fatalf("CallSync failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("CallSync = %v, want 42", got)
	}

	if err := v.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if v.State() != StateStopped {
		t.Fatalf("state = %v, want Stopped", v.State())
	}
	if !fake.Closed() {
		t.Fatal("executor was not closed")
	}
}

func TestLifecycleOutOfOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		op   func(v *VM) error
	}{
		{"load before initialize", func(v *VM) error {
			return v.Load(ctx, []byte("x"))
		}},
		{"entry before load", func(v *VM) error {
			if err := v.Initialize(ctx, nil); err != nil {
				return err
			}
			return v.CallEntry(ctx)
		}},
		{"double initialize", func(v *VM) error {
			if err := v.Initialize(ctx, nil); err != nil {
				return err
			}
			return v.Initialize(ctx, nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVM(t, guesttest.NewFake())
			err := tt.op(v)
			if !errors.IsKind(err, errors.KindInvalidState) {
				t.Fatalf("expected invalid_state, got %v", err)
			}
		})
	}
}

func TestSetModeAfterInitializeRejected(t *testing.T) {
	ctx := context.Background()
	v := newTestVM(t, guesttest.NewFake())

	if err := v.SetMode(ModeThreaded); err != nil {
		t.Fatalf("SetMode before Initialize failed: %v", err)
	}
	if v.Mode() != ModeThreaded {
		t.Fatalf("Mode = %v, want Threaded", v.Mode())
	}

	if err := v.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	err := v.SetMode(ModeDirect)
	if !errors.IsKind(err, errors.KindModeMismatch) {
		t.Fatalf("expected mode_mismatch after Initialize, got %v", err)
	}
	if v.Mode() != ModeThreaded {
		t.Fatal("rejected SetMode must not change the mode")
	}
}

func TestNewAfterDestroyRejected(t *testing.T) {
	resetProcessState()
	t.Cleanup(resetProcessState)

	v, err := New(guesttest.NewFake())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := v.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	_, err = New(guesttest.NewFake())
	if !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("expected invalid_state for New after Destroy, got %v", err)
	}
}

func TestNewWhileLiveRejected(t *testing.T) {
	resetProcessState()
	t.Cleanup(resetProcessState)

	if _, err := New(guesttest.NewFake()); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err := New(guesttest.NewFake())
	if !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("expected invalid_state for second New, got %v", err)
	}
}

func TestDestroyTwiceRejected(t *testing.T) {
	ctx := context.Background()
	v := newTestVM(t, guesttest.NewFake())

	if err := v.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	err := v.Destroy(ctx)
	if !errors.IsKind(err, errors.KindInvalidState) {
		t.Fatalf("expected invalid_state for second Destroy, got %v", err)
	}
}

func TestDestroyStopsRunningWorker(t *testing.T) {
	ctx := context.Background()
	fake := guesttest.NewFake()
	v := runningThreaded(t, fake)

	if err := v.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if v.WorkerRunning() {
		t.Fatal("worker still running after Destroy")
	}
	if !fake.Closed() {
		t.Fatal("executor was not closed")
	}
}

func TestGuestExceptionDistinctFromMisuse(t *testing.T) {
	ctx := context.Background()
	fake := guesttest.NewFake()
	fake.Register("explode", func(payload any) (any, error) {
		return nil, fmt.Errorf("Null access .x")
	})
	v := runningDirect(t, fake)

	_, err := v.CallSync(ctx, "explode", nil)
	if !errors.IsKind(err, errors.KindGuestException) {
		t.Fatalf("expected guest_exception, got %v", err)
	}
	structured := err.(*errors.Error)
	if structured.GuestText != "Null access .x" {
		t.Fatalf("GuestText = %q", structured.GuestText)
	}
	if fake.Calls() != 1 {
		t.Fatalf("target executions = %d, want 1", fake.Calls())
	}

	// Unknown target never executes and is not a guest exception.
	_, err = v.CallSync(ctx, "missing", nil)
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if fake.Calls() != 1 {
		t.Fatalf("unknown target must not execute, calls = %d", fake.Calls())
	}
}

func TestRootRegistryWiring(t *testing.T) {
	fake := guesttest.NewPinningFake()
	v := newTestVM(t, fake)

	slot := new(int)
	before := v.Roots().Len()

	if err := v.RootAdd(slot); err != nil {
		t.Fatalf("RootAdd failed: %v", err)
	}
	if fake.PinnedCount() != 1 {
		t.Fatalf("pinned = %d, want 1", fake.PinnedCount())
	}
	if err := v.RootAdd(slot); !errors.IsKind(err, errors.KindRootLogic) {
		t.Fatalf("expected root_logic for double add, got %v", err)
	}

	v.RootRemove(slot)
	v.RootRemove(slot) // tolerated no-op
	if v.Roots().Len() != before {
		t.Fatalf("registry size changed: %d != %d", v.Roots().Len(), before)
	}
	if fake.PinnedCount() != 0 {
		t.Fatalf("pinned = %d, want 0", fake.PinnedCount())
	}
}

func TestDestroyClearsRoots(t *testing.T) {
	ctx := context.Background()
	fake := guesttest.NewPinningFake()
	v := newTestVM(t, fake)

	if err := v.RootAdd(new(int)); err != nil {
		t.Fatalf("RootAdd failed: %v", err)
	}
	if err := v.Destroy(ctx); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if fake.PinnedCount() != 0 {
		t.Fatalf("pinned = %d after Destroy, want 0", fake.PinnedCount())
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	fake := guesttest.NewFake()
	fake.Register("noop", func(payload any) (any, error) { return nil, nil })
	v := runningDirect(t, fake)

	if _, err := v.CallSync(ctx, "noop", nil); err != nil {
		t.Fatalf("CallSync failed: %v", err)
	}
	v.Pump()

	s := v.Stats()
	if s.State != StateRunning || s.Mode != ModeDirect {
		t.Fatalf("stats = %+v", s)
	}
	if s.Executed != 1 {
		t.Fatalf("Executed = %d, want 1", s.Executed)
	}
	if s.Pumps != 1 {
		t.Fatalf("Pumps = %d, want 1", s.Pumps)
	}
}
