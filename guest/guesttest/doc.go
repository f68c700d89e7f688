// Package guesttest provides scriptable fake guest executors for testing
// the embedding core and for the CLI demo mode.
//
// Fake records every entry into "guest code" and counts overlapping entries,
// so tests can assert that at most one thread is ever inside the guest.
package guesttest
