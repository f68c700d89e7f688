package guesttest

import (
	"fmt"
	"sync"

	"github.com/vmlink/vmlink/guest"
)

// PinningFake extends Fake with the optional collector-facing capabilities:
// root pinning, worker thread registration, and blocking notification. It
// records every capability call so tests can assert the core's wiring.
type PinningFake struct {
	*Fake

	mu            sync.Mutex
	pinned        map[any]bool
	threadRegs    int
	threadUnregs  int
	blockingDepth int
}

var (
	_ guest.RootPinner       = (*PinningFake)(nil)
	_ guest.ThreadRegistrar  = (*PinningFake)(nil)
	_ guest.BlockingNotifier = (*PinningFake)(nil)
)

// NewPinningFake creates a fake executor that also records collector
// capability calls.
func NewPinningFake() *PinningFake {
	return &PinningFake{
		Fake:   NewFake(),
		pinned: make(map[any]bool),
	}
}

// PinRoot implements guest.RootPinner.
func (f *PinningFake) PinRoot(slot any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinned[slot] {
		return fmt.Errorf("slot already pinned")
	}
	f.pinned[slot] = true
	return nil
}

// UnpinRoot implements guest.RootPinner.
func (f *PinningFake) UnpinRoot(slot any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pinned, slot)
}

// PinnedCount reports how many slots are currently pinned.
func (f *PinningFake) PinnedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pinned)
}

// RegisterThread implements guest.ThreadRegistrar.
func (f *PinningFake) RegisterThread() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadRegs++
}

// UnregisterThread implements guest.ThreadRegistrar.
func (f *PinningFake) UnregisterThread() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadUnregs++
}

// ThreadRegistrations returns register/unregister call counts.
func (f *PinningFake) ThreadRegistrations() (regs, unregs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadRegs, f.threadUnregs
}

// EnterBlocking implements guest.BlockingNotifier.
func (f *PinningFake) EnterBlocking() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockingDepth++
}

// LeaveBlocking implements guest.BlockingNotifier.
func (f *PinningFake) LeaveBlocking() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockingDepth--
}

// BlockingDepth reports the notifier's current view of blocking depth.
func (f *PinningFake) BlockingDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockingDepth
}
