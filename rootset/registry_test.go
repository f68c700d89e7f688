package rootset

import (
	"testing"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest/guesttest"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry(nil)
	slot := new(int)

	before := r.Len()
	if err := r.Add(slot); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !r.Contains(slot) {
		t.Fatal("expected slot to be registered")
	}

	r.Remove(slot)
	if r.Contains(slot) {
		t.Fatal("expected slot to be unregistered")
	}
	if r.Len() != before {
		t.Fatalf("expected size %d after add+remove, got %d", before, r.Len())
	}
}

func TestRegistry_DoubleAddRejected(t *testing.T) {
	r := NewRegistry(nil)
	slot := new(int)

	if err := r.Add(slot); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	err := r.Add(slot)
	if !errors.IsKind(err, errors.KindRootLogic) {
		t.Fatalf("expected root_logic error, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("registry changed by rejected add: len=%d", r.Len())
	}
}

func TestRegistry_RemoveUnregisteredIsNoop(t *testing.T) {
	r := NewRegistry(nil)

	r.Remove(new(int)) // never registered
	r.Remove(nil)

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got len=%d", r.Len())
	}
}

func TestRegistry_NilSlotRejected(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Add(nil); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("expected invalid_input error, got %v", err)
	}
}

func TestRegistry_PinnerNotified(t *testing.T) {
	pinner := guesttest.NewPinningFake()
	r := NewRegistry(pinner)

	a, b := new(int), new(int)
	if err := r.Add(a); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(b); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if pinner.PinnedCount() != 2 {
		t.Fatalf("expected 2 pinned, got %d", pinner.PinnedCount())
	}

	r.Remove(a)
	if pinner.PinnedCount() != 1 {
		t.Fatalf("expected 1 pinned after remove, got %d", pinner.PinnedCount())
	}

	r.Clear()
	if pinner.PinnedCount() != 0 {
		t.Fatalf("expected 0 pinned after clear, got %d", pinner.PinnedCount())
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after clear, got len=%d", r.Len())
	}
}

func TestRegistry_PinFailureLeavesRegistryUnchanged(t *testing.T) {
	pinner := guesttest.NewPinningFake()
	r := NewRegistry(pinner)

	slot := new(int)
	if err := pinner.PinRoot(slot); err != nil {
		t.Fatalf("direct pin failed: %v", err)
	}

	// Pinner already holds the slot, so the registry's pin attempt fails.
	err := r.Add(slot)
	if !errors.IsKind(err, errors.KindRootLogic) {
		t.Fatalf("expected root_logic error, got %v", err)
	}
	if r.Contains(slot) {
		t.Fatal("failed add must not register the slot")
	}
}
