// Package session serves the requests arriving on one accepted connection.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"anvil/internal/async"
	"anvil/internal/logging"
	"anvil/internal/protocol"
)

// CompletionReason describes how a session ended.
type CompletionReason int

const (
	// Completed means the client finished and closed the channel between requests.
	Completed CompletionReason = iota
	// ClientDisconnect means the channel broke while a request was in flight.
	ClientDisconnect
)

func (r CompletionReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case ClientDisconnect:
		return "client_disconnect"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ErrKeepAliveAbandoned fails a KeepAlive operation whose session ended
// without asking for one.
var ErrKeepAliveAbandoned = errors.New("session ended without keep-alive request")

// Connection is the running state of one session as seen by the dispatcher.
type Connection struct {
	ID string
	// Result completes when the session ends. It fails if the session crashed.
	Result *async.Op[CompletionReason]
	// KeepAlive completes with the first keep-alive the client asked for.
	KeepAlive *async.Op[time.Duration]
}

// RequestHandler answers a single request. ctx is cancelled if the client
// disconnects before the response is ready.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req protocol.Request) protocol.Response
}

// HandlerFunc adapts a function to RequestHandler.
type HandlerFunc func(ctx context.Context, req protocol.Request) protocol.Response

func (f HandlerFunc) HandleRequest(ctx context.Context, req protocol.Request) protocol.Response {
	return f(ctx, req)
}

// Host turns accepted connections into sessions.
type Host struct {
	handler RequestHandler
	logger  *slog.Logger
}

// NewHost returns a Host that passes every request to handler.
func NewHost(handler RequestHandler, logger *slog.Logger) *Host {
	return &Host{
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "session"),
	}
}

// HandleConnection starts serving conn on a new goroutine. The connection is
// closed when the session ends.
func (h *Host) HandleConnection(ctx context.Context, conn net.Conn) Connection {
	id := uuid.NewString()
	ctx = logging.WithSessionID(ctx, id)
	logger := logging.WithContext(ctx, h.logger)
	keepAlive := async.New[time.Duration]()

	result := async.Go(func() (CompletionReason, error) {
		defer conn.Close()
		defer keepAlive.Fail(ErrKeepAliveAbandoned)

		logger.Debug("session started")
		reason := h.serve(ctx, conn, keepAlive, logger)
		logger.Debug("session ended", logging.String("reason", reason.String()))
		return reason, nil
	})

	return Connection{ID: id, Result: result, KeepAlive: keepAlive}
}

func (h *Host) serve(ctx context.Context, conn net.Conn, keepAlive *async.Op[time.Duration], logger *slog.Logger) CompletionReason {
	reader := bufio.NewReaderSize(conn, protocol.BufferSize)
	writer := bufio.NewWriterSize(conn, protocol.BufferSize)

	for {
		req, err := protocol.DecodeRequest(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Completed
			}
			if !errors.Is(err, protocol.ErrInvalidRequest) {
				logger.Debug("request read failed", logging.Error(err))
				return ClientDisconnect
			}
			logging.WarnWithContext(logger, "invalid request", "session_invalid_request",
				logging.Error(err),
				logging.String(logging.FieldImpact, "request rejected"),
				logging.String(logging.FieldErrorHint, "check the client speaks the anvil protocol"))
			if err := reply(writer, protocol.Errorf(req, err.Error())); err != nil {
				return ClientDisconnect
			}
			continue
		}

		if d, ok := req.KeepAlive(); ok && keepAlive.Resolve(d) {
			logger.Debug("keep-alive requested", logging.Duration("keep_alive", d))
		}

		started := time.Now()
		resp, disconnected := h.handle(ctx, conn, reader, req)
		if disconnected {
			logger.Debug("client disconnected during request",
				logging.String(logging.FieldRequestID, req.ID),
				logging.String("kind", string(req.Kind)))
			return ClientDisconnect
		}
		logger.Debug("request handled",
			logging.String(logging.FieldRequestID, req.ID),
			logging.String("kind", string(req.Kind)),
			logging.String("status", string(resp.Status)),
			logging.Int("exit_code", resp.ExitCode),
			logging.Duration("duration", time.Since(started)))

		if err := reply(writer, resp); err != nil {
			logger.Debug("response write failed", logging.Error(err))
			return ClientDisconnect
		}
	}
}

// handle runs the handler while watching the read side for the peer going away.
func (h *Host) handle(ctx context.Context, conn net.Conn, reader *bufio.Reader, req protocol.Request) (protocol.Response, bool) {
	reqCtx, cancel := context.WithCancel(logging.WithRequestID(ctx, req.ID))
	defer cancel()

	gone := make(chan bool, 1)
	go func() {
		if watchHangUp(reader) {
			cancel()
			gone <- true
			return
		}
		gone <- false
	}()

	resp := h.handler.HandleRequest(reqCtx, req)

	_ = conn.SetReadDeadline(time.Now())
	disconnected := <-gone
	_ = conn.SetReadDeadline(time.Time{})

	if resp.ID == "" {
		resp.ID = req.ID
	}
	return resp, disconnected
}

// watchHangUp blocks until the peer closes the connection (true) or the read
// deadline is forced (false). Bytes that arrive meanwhile stay buffered for
// the next request and the watch continues past them. Once the buffer is full
// the peer can only be noticed when the response write fails.
func watchHangUp(reader *bufio.Reader) bool {
	n := 1
	for {
		_, err := reader.Peek(n)
		switch {
		case err == nil:
			n = reader.Buffered() + 1
			if n > reader.Size() {
				return false
			}
		case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, bufio.ErrBufferFull):
			return false
		default:
			return true
		}
	}
}

func reply(w *bufio.Writer, resp protocol.Response) error {
	if err := protocol.Encode(w, resp); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}
