// Package guest defines the interfaces the embedding core consumes from the
// guest virtual machine collaborator.
//
// The guest is an opaque, single-threaded, garbage-collected runtime. This
// package deliberately knows nothing about its bytecode format, type system,
// or value representation — payloads cross the boundary as opaque values and
// are converted by a separate marshaling layer.
//
// The only hard contract is thread ownership: at most one goroutine is ever
// inside an Executor method at a time. The vm package enforces this
// structurally in Threaded mode and delegates it to the host in Direct mode.
package guest
