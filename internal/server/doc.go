// Package server runs the dispatch loop of an anvil compilation server.
//
// A Dispatcher owns every piece of server state on a single goroutine. It keeps
// one pending listen outstanding, starts a session for each accepted
// connection, and decides when the process should stop: after an idle timeout,
// on an external shutdown signal, or as soon as a client disconnects in the
// middle of a request. While idle it schedules a deferred garbage collection.
//
// Shutdown never abandons a running session. The loop cancels its listen and
// then waits for every outstanding session before Run returns.
package server
