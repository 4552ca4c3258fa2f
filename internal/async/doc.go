// Package async provides the one-shot completion primitive shared by the
// listener, the connection sessions, and the dispatch loop.
//
// An Op is resolved exactly once, either with a value or with an error. Its
// Done channel is closed on completion, so any number of observers can wait on
// it, poll it without blocking, or include it in a multiplexed select without
// consuming the result. Producers run on their own goroutines and never share
// any other state with the goroutine consuming the result.
package async
