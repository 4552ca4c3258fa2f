// Package endpoint owns the local Unix socket a compilation server listens on.
//
// A Listener binds its socket lazily and performs exactly one accept per
// BeginListen call. The accept runs on its own goroutine and reports through an
// async.Op, so the dispatch loop can wait on it alongside everything else.
// Cancelling the context handed to BeginListen closes the socket, which
// unblocks the accept; the next BeginListen binds a fresh one.
//
// Only the owning user may connect: the runtime directory is created 0700, the
// socket is 0600, and every accepted peer's uid is compared with the server's.
package endpoint
