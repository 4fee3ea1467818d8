// Package host implements the single-threaded host execution context.
//
// Background work never touches host-owned state directly. It produces
// a value and hands a closure to Loop.Invoke; the loop runs those
// closures one at a time, in FIFO order, on the goroutine that called
// Run.
//
// Invalidation models a torn-down host (hot reload, shutdown). While
// invalidated, Invoke refuses new closures, anything already queued is
// discarded, and Deferred results settle nowhere. The native work that
// produced them still runs to completion.
package host
