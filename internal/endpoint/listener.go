package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"anvil/internal/async"
	"anvil/internal/logging"
	"anvil/internal/protocol"
)

const (
	dirMode    os.FileMode = 0o700
	socketMode os.FileMode = 0o600
)

// Listener accepts connections on a single Unix socket path.
type Listener struct {
	path   string
	logger *slog.Logger

	admit     func() bool
	checkPeer func(*net.UnixConn) error

	mu     sync.Mutex
	socket *net.UnixListener
}

// NewListener prepares a listener for path. Nothing is bound until the first
// BeginListen.
func NewListener(path string, logger *slog.Logger) *Listener {
	return &Listener{
		path:      path,
		logger:    logging.NewComponentLogger(logger, "endpoint"),
		admit:     enoughMemory,
		checkPeer: verifyPeer,
	}
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// BeginListen starts one accept and returns an operation that completes with
// the connected peer. The operation fails with ErrCancelled once ctx is done,
// with ErrPeerRejected or ErrConnectionRefused when the accepted peer is turned
// away, and with an error wrapping ErrEndpoint when the socket cannot be bound.
func (l *Listener) BeginListen(ctx context.Context) *async.Op[net.Conn] {
	op := async.New[net.Conn]()

	socket, err := l.bind()
	if err != nil {
		op.Fail(err)
		return op
	}

	stop := context.AfterFunc(ctx, func() {
		l.release(socket)
	})

	go func() {
		conn, err := socket.AcceptUnix()
		stop()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				op.Fail(ErrCancelled)
				return
			}
			// Rebind on the next attempt rather than spinning on a broken socket.
			l.release(socket)
			op.Fail(fmt.Errorf("accept on %s: %w", l.path, err))
			return
		}
		if err := l.checkPeer(conn); err != nil {
			_ = conn.Close()
			op.Fail(fmt.Errorf("%w: %v", ErrPeerRejected, err))
			return
		}
		if !l.admit() {
			_ = conn.Close()
			op.Fail(ErrConnectionRefused)
			return
		}
		tuneBuffers(conn, l.logger)
		op.Resolve(conn)
	}()

	return op
}

// Close releases the socket if one is bound. A later BeginListen binds again.
func (l *Listener) Close() error {
	l.mu.Lock()
	socket := l.socket
	l.socket = nil
	l.mu.Unlock()
	if socket == nil {
		return nil
	}
	if err := socket.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close socket: %w", err)
	}
	return nil
}

func (l *Listener) bind() (*net.UnixListener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.socket != nil {
		return l.socket, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), dirMode); err != nil {
		return nil, fmt.Errorf("%w: create runtime dir: %v", ErrEndpoint, err)
	}
	if err := os.RemoveAll(l.path); err != nil {
		return nil, fmt.Errorf("%w: remove stale socket: %v", ErrEndpoint, err)
	}
	socket, err := net.ListenUnix("unix", &net.UnixAddr{Name: l.path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("%w: listen on socket: %v", ErrEndpoint, err)
	}
	if err := os.Chmod(l.path, socketMode); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("%w: chmod socket: %v", ErrEndpoint, err)
	}

	l.socket = socket
	l.logger.Debug("socket bound", logging.String("socket", l.path))
	return socket, nil
}

// release closes socket and forgets it if it is still the current one.
func (l *Listener) release(socket *net.UnixListener) {
	l.mu.Lock()
	if l.socket == socket {
		l.socket = nil
	}
	l.mu.Unlock()
	_ = socket.Close()
}

func tuneBuffers(conn *net.UnixConn, logger *slog.Logger) {
	if err := conn.SetReadBuffer(protocol.BufferSize); err != nil {
		logger.Debug("set receive buffer failed", logging.Error(err))
	}
	if err := conn.SetWriteBuffer(protocol.BufferSize); err != nil {
		logger.Debug("set send buffer failed", logging.Error(err))
	}
}

func verifyPeer(conn *net.UnixConn) error {
	uid, err := peerUID(conn)
	if err != nil {
		return err
	}
	if expected := os.Getuid(); expected >= 0 && uid != uint32(expected) {
		return fmt.Errorf("peer uid %d does not match %d", uid, expected)
	}
	return nil
}
