// Package bridge is the public surface of sqlbridge.
//
// A Bridge owns the connection registry, the worker pool, the host loop
// and one reactive hub per open connection. Synchronous operations run
// on the caller's goroutine. Async variants copy their inputs, run on the
// pool and settle a host.Deferred through the loop; after Invalidate
// those deliveries are dropped.
//
// Every error returned from this package is a *sqlerr.Error produced by
// sqlerr.Map, carrying the operation and database name.
package bridge
