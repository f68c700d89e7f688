package rootset

import (
	"sync"

	"github.com/vmlink/vmlink/errors"
	"github.com/vmlink/vmlink/guest"
)

// Registry tracks host-owned storage slots holding guest-native values, so
// the guest's collector treats them as live roots for as long as they are
// registered.
//
// A slot is any comparable value identifying the storage cell — typically a
// pointer to the host variable holding the guest reference. Registration is
// symmetric: every Add must be balanced by exactly one Remove before the
// cell is reclaimed. Double-add is a logic error; remove of an unregistered
// slot is a tolerated no-op so error-path double-cleanup stays safe.
//
// All methods are safe for concurrent use; critical sections are O(1).
type Registry struct {
	mu     sync.Mutex
	slots  map[any]struct{}
	pinner guest.RootPinner
}

// NewRegistry creates an empty registry. pinner may be nil when the guest
// executor needs no collector notification.
func NewRegistry(pinner guest.RootPinner) *Registry {
	return &Registry{
		slots:  make(map[any]struct{}),
		pinner: pinner,
	}
}

// Add registers a storage slot as a live GC root. Adding a slot that is
// already registered fails with a root_logic error and leaves the registry
// unchanged.
func (r *Registry) Add(slot any) error {
	if slot == nil {
		return errors.InvalidInput(errors.PhaseRoot, "nil slot")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[slot]; exists {
		return errors.RootLogic("slot already registered")
	}

	if r.pinner != nil {
		if err := r.pinner.PinRoot(slot); err != nil {
			return errors.New(errors.PhaseRoot, errors.KindRootLogic).
				Cause(err).
				Detail("pin root").
				Build()
		}
	}

	r.slots[slot] = struct{}{}
	return nil
}

// Remove unregisters a storage slot. Removing a slot that was never
// registered (or was already removed) is a no-op.
func (r *Registry) Remove(slot any) {
	if slot == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[slot]; !exists {
		return
	}

	delete(r.slots, slot)
	if r.pinner != nil {
		r.pinner.UnpinRoot(slot)
	}
}

// Contains reports whether slot is currently registered.
func (r *Registry) Contains(slot any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.slots[slot]
	return exists
}

// Len returns the number of registered roots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Clear unregisters every slot. Used at teardown, after which no guest
// value may be reached through host storage.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for slot := range r.slots {
		if r.pinner != nil {
			r.pinner.UnpinRoot(slot)
		}
		delete(r.slots, slot)
	}
}
