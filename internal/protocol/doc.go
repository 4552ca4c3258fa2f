// Package protocol defines the newline-delimited JSON messages exchanged
// between anvil clients and the compilation server.
//
// Every request and response occupies exactly one line. Decoding validates the
// message after parsing so malformed input is rejected with ErrInvalidRequest
// while the stream stays aligned on line boundaries. Both ends size their
// buffered readers and writers with BufferSize.
package protocol
