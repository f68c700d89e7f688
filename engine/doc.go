// Package engine provides a wazero-backed guest executor.
//
// It adapts a WebAssembly module to the guest.Executor contract consumed by
// the vm package: exported functions become callable targets, and optional
// poll exports become the two event sources. Payload conversion stays at
// the raw word level; anything richer is the marshaling layer's job.
package engine
