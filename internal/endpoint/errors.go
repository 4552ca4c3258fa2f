package endpoint

import "errors"

var (
	// ErrEndpoint wraps failures to create or secure the socket. They are not retryable.
	ErrEndpoint = errors.New("endpoint construction failed")
	// ErrCancelled reports a listen that was cancelled before a peer connected.
	ErrCancelled = errors.New("listen cancelled")
	// ErrConnectionRefused reports a peer that was accepted and then turned away
	// because the host is short on memory.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrPeerRejected reports a peer running as a different user.
	ErrPeerRejected = errors.New("peer rejected")
)
