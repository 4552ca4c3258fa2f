package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"runtime"
	"runtime/debug"
	"time"

	"anvil/internal/async"
	"anvil/internal/endpoint"
	"anvil/internal/logging"
	"anvil/internal/session"
)

// DefaultGCDelay is how long the server stays idle before forcing a collection.
const DefaultGCDelay = 30 * time.Second

// Listener produces one accepted connection per call.
type Listener interface {
	BeginListen(ctx context.Context) *async.Op[net.Conn]
}

// ConnectionHandler starts a session for an accepted connection.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn net.Conn) session.Connection
}

// Options configures a Dispatcher.
type Options struct {
	Listener  Listener
	Handler   ConnectionHandler
	KeepAlive KeepAlivePolicy
	// GCDelay defaults to DefaultGCDelay.
	GCDelay time.Duration
	// Collect defaults to a full collection that returns memory to the OS.
	Collect func()
	Logger  *slog.Logger
}

// Dispatcher multiplexes the listener, the running sessions and the server's
// timers on one goroutine.
type Dispatcher struct {
	listener  Listener
	handler   ConnectionHandler
	keepAlive KeepAlivePolicy
	gcDelay   time.Duration
	collect   func()
	logger    *slog.Logger

	after   func(time.Duration) (*async.Op[struct{}], func())
	observe func(*state)
}

// New validates opts and returns a Dispatcher ready to Run.
func New(opts Options) (*Dispatcher, error) {
	if opts.Listener == nil {
		return nil, errors.New("dispatcher requires a listener")
	}
	if opts.Handler == nil {
		return nil, errors.New("dispatcher requires a connection handler")
	}
	gcDelay := opts.GCDelay
	if gcDelay <= 0 {
		gcDelay = DefaultGCDelay
	}
	collect := opts.Collect
	if collect == nil {
		collect = collectGarbage
	}
	return &Dispatcher{
		listener:  opts.Listener,
		handler:   opts.Handler,
		keepAlive: opts.KeepAlive,
		gcDelay:   gcDelay,
		collect:   collect,
		logger:    logging.NewComponentLogger(opts.Logger, "dispatcher"),
		after:     async.After,
	}, nil
}

type phase int

const (
	phaseAccepting phase = iota
	phaseDraining
	phaseTerminated
)

func (p phase) String() string {
	switch p {
	case phaseAccepting:
		return "accepting"
	case phaseDraining:
		return "draining"
	case phaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type connection struct {
	id        string
	result    *async.Op[session.CompletionReason]
	keepAlive *async.Op[time.Duration]
}

type timer struct {
	op   *async.Op[struct{}]
	stop func()
}

func (t *timer) fired() bool {
	return t != nil && t.op.Completed()
}

// state lives on Run's stack and is touched only by the loop goroutine.
type state struct {
	phase       phase
	keepAlive   KeepAlivePolicy
	connections []*connection

	listen       *async.Op[net.Conn]
	cancelListen context.CancelFunc

	idleTimeout *timer
	idleGC      *timer
	// gcDue is set when the last connection finishes and cleared once the
	// idle collection is armed or a new connection arrives.
	gcDue bool

	err error
}

// Run serves until the server shuts down. Cancelling ctx is the external
// shutdown signal. Run returns nil on every orderly shutdown and an error
// wrapping endpoint.ErrEndpoint when the socket could not be created. Either
// way every session has finished by the time it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	st := &state{phase: phaseAccepting, keepAlive: d.keepAlive}
	background := context.WithoutCancel(ctx)

	if timeout, ok := st.keepAlive.Effective(); ok {
		d.logger.Info("dispatcher started", logging.Duration("keep_alive", timeout))
	} else {
		d.logger.Info("dispatcher started", logging.String("keep_alive", "none"))
	}

	for st.phase == phaseAccepting {
		d.prepare(background, st)
		d.notify(st)
		d.wait(ctx, st)
		// Handle everything that is ready, highest priority first.
		for st.phase == phaseAccepting {
			if !d.resolve(ctx, background, st) {
				break
			}
		}
	}

	d.drain(background, st)
	st.phase = phaseTerminated
	d.notify(st)
	d.logger.Info("dispatcher stopped")
	return st.err
}

// prepare restores the loop's standing operations before it waits.
func (d *Dispatcher) prepare(background context.Context, st *state) {
	if st.listen == nil {
		listenCtx, cancel := context.WithCancel(background)
		st.listen = d.listener.BeginListen(listenCtx)
		st.cancelListen = cancel
	}
	if len(st.connections) > 0 {
		return
	}
	if timeout, ok := st.keepAlive.Effective(); ok && st.idleTimeout == nil {
		op, stop := d.after(timeout)
		st.idleTimeout = &timer{op: op, stop: stop}
		d.logger.Debug("idle timeout armed", logging.Duration("keep_alive", timeout))
	}
	if st.gcDue && st.idleGC == nil {
		op, stop := d.after(d.gcDelay)
		st.idleGC = &timer{op: op, stop: stop}
		st.gcDue = false
		d.logger.Debug("idle collection scheduled", logging.Duration("delay", d.gcDelay))
	}
}

// wait blocks until at least one pending operation has completed.
func (d *Dispatcher) wait(ctx context.Context, st *state) {
	cases := make([]reflect.SelectCase, 0, 4+2*len(st.connections))
	add := func(ch <-chan struct{}) {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}

	add(ctx.Done())
	if st.listen != nil {
		add(st.listen.Done())
	}
	if st.idleTimeout != nil {
		add(st.idleTimeout.op.Done())
	}
	if st.idleGC != nil {
		add(st.idleGC.op.Done())
	}
	for _, c := range st.connections {
		add(c.result.Done())
		if c.keepAlive != nil {
			add(c.keepAlive.Done())
		}
	}
	reflect.Select(cases)
}

// resolve handles the highest priority completed operation and reports whether
// it found one.
func (d *Dispatcher) resolve(ctx, background context.Context, st *state) bool {
	if st.listen != nil && st.listen.Completed() {
		d.finishListen(background, st)
		return true
	}

	if st.idleTimeout.fired() {
		st.idleTimeout = nil
		d.logger.Info("idle timeout reached, shutting down",
			logging.String(logging.FieldEventType, "server_idle_timeout"))
		d.beginDrain(st)
		return true
	}
	if ctx.Err() != nil {
		d.logger.Info("shutdown requested",
			logging.String(logging.FieldEventType, "server_shutdown_signal"))
		d.beginDrain(st)
		return true
	}

	if st.idleGC.fired() {
		st.idleGC = nil
		d.logger.Debug("collecting garbage while idle")
		d.collect()
		return true
	}

	for _, c := range st.connections {
		if c.keepAlive == nil || !c.keepAlive.Completed() {
			continue
		}
		requested, err := c.keepAlive.Result()
		c.keepAlive = nil
		if err != nil {
			continue
		}
		if st.keepAlive.Update(requested) {
			d.logger.Info("keep-alive updated",
				logging.String(logging.FieldSessionID, c.id),
				logging.Duration("keep_alive", requested))
		}
		return true
	}

	for i, c := range st.connections {
		if !c.result.Completed() {
			continue
		}
		st.connections = append(st.connections[:i], st.connections[i+1:]...)
		reason, err := c.result.Result()
		switch {
		case err != nil:
			logging.WarnWithContext(d.logger, "session failed, shutting down", "session_failed",
				logging.String(logging.FieldSessionID, c.id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "server stops accepting and exits once sessions finish"),
				logging.String(logging.FieldErrorHint, "check the session log for the failing request"))
			d.beginDrain(st)
		case reason == session.ClientDisconnect:
			d.logger.Info("client disconnected mid-request, shutting down",
				logging.String(logging.FieldEventType, "session_client_disconnect"),
				logging.String(logging.FieldSessionID, c.id))
			d.beginDrain(st)
		default:
			d.logger.Debug("session completed",
				logging.String(logging.FieldSessionID, c.id),
				logging.Int("connections", len(st.connections)))
			if len(st.connections) == 0 {
				st.gcDue = true
			}
		}
		return true
	}

	return false
}

func (d *Dispatcher) finishListen(background context.Context, st *state) {
	op := st.listen
	st.listen = nil
	st.cancelListen()
	st.cancelListen = nil

	conn, err := op.Result()
	if err == nil {
		d.accept(background, st, conn)
		return
	}

	switch {
	case errors.Is(err, endpoint.ErrEndpoint):
		logging.ErrorWithContext(d.logger, "cannot create endpoint", "endpoint_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "server cannot accept clients and will exit"),
			logging.String(logging.FieldErrorHint, "check permissions on the runtime directory"))
		st.err = fmt.Errorf("listen: %w", err)
		d.beginDrain(st)
	case errors.Is(err, endpoint.ErrCancelled):
		d.logger.Debug("listen cancelled", logging.Error(err))
	default:
		logging.WarnWithContext(d.logger, "connection not accepted", "listen_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the client must reconnect"),
			logging.String(logging.FieldErrorHint, "check free memory and that the client runs as the server's user"))
	}
}

func (d *Dispatcher) accept(background context.Context, st *state, conn net.Conn) {
	handled := d.handler.HandleConnection(background, conn)
	st.connections = append(st.connections, &connection{
		id:        handled.ID,
		result:    handled.Result,
		keepAlive: handled.KeepAlive,
	})
	if st.idleTimeout != nil {
		st.idleTimeout.stop()
		st.idleTimeout = nil
	}
	if st.idleGC != nil {
		st.idleGC.stop()
		st.idleGC = nil
	}
	st.gcDue = false
	d.logger.Info("connection accepted",
		logging.String(logging.FieldEventType, "connection_accepted"),
		logging.String(logging.FieldSessionID, handled.ID),
		logging.Int("connections", len(st.connections)))
}

func (d *Dispatcher) beginDrain(st *state) {
	st.phase = phaseDraining
	if st.cancelListen != nil {
		st.cancelListen()
	}
	if st.idleTimeout != nil {
		st.idleTimeout.stop()
		st.idleTimeout = nil
	}
	if st.idleGC != nil {
		st.idleGC.stop()
		st.idleGC = nil
	}
	st.gcDue = false
}

// drain waits out the cancelled listen and every remaining session.
func (d *Dispatcher) drain(background context.Context, st *state) {
	if st.listen != nil {
		// A peer that connected as the listen was cancelled still gets served.
		if conn, err := st.listen.Result(); err == nil {
			d.accept(background, st, conn)
		}
		st.listen = nil
		st.cancelListen = nil
	}
	if len(st.connections) > 0 {
		d.logger.Info("waiting for sessions to finish", logging.Int("connections", len(st.connections)))
	}
	for _, c := range st.connections {
		reason, err := c.result.Result()
		if err != nil {
			d.logger.Debug("session failed during shutdown",
				logging.String(logging.FieldSessionID, c.id), logging.Error(err))
			continue
		}
		d.logger.Debug("session finished during shutdown",
			logging.String(logging.FieldSessionID, c.id),
			logging.String("reason", reason.String()))
	}
	st.connections = nil
}

func (d *Dispatcher) notify(st *state) {
	if d.observe != nil {
		d.observe(st)
	}
}

func collectGarbage() {
	runtime.GC()
	debug.FreeOSMemory()
}
