// Package rootset implements the host-side GC root registry.
//
// A garbage-collected guest only keeps values alive while it can see a
// reference to them. Values captured into host-owned storage beyond the
// call that produced them are invisible to the guest's collector, so the
// host must register the storage slot as a root and unregister it before
// the slot is reclaimed.
package rootset
