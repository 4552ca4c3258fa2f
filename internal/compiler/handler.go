// Package compiler answers anvil requests by running the configured compiler.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"anvil/internal/logging"
	"anvil/internal/protocol"
)

var commandContext = exec.CommandContext

// Option configures a Handler.
type Option func(*Handler)

// WithDefaultArgs sets arguments placed before every request's own.
func WithDefaultArgs(args []string) Option {
	return func(h *Handler) {
		h.defaultArgs = append([]string(nil), args...)
	}
}

// WithTimeout bounds each compiler run. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// WithEnv adds KEY=VALUE entries to the compiler environment.
func WithEnv(env []string) Option {
	return func(h *Handler) {
		h.env = append([]string(nil), env...)
	}
}

// WithShutdown sets the callback invoked for shutdown requests.
func WithShutdown(fn func()) Option {
	return func(h *Handler) {
		h.shutdown = fn
	}
}

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler runs one compiler process per compile request.
type Handler struct {
	command     string
	defaultArgs []string
	timeout     time.Duration
	env         []string
	shutdown    func()
	logger      *slog.Logger
}

// New returns a Handler that runs command.
func New(command string, opts ...Option) *Handler {
	h := &Handler{command: command}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.NewComponentLogger(h.logger, "compiler")
	return h
}

// HandleRequest implements session.RequestHandler.
func (h *Handler) HandleRequest(ctx context.Context, req protocol.Request) protocol.Response {
	switch req.Kind {
	case protocol.KindPing:
		return protocol.OK(req, 0, "pong")
	case protocol.KindShutdown:
		logging.WithContext(ctx, h.logger).Info("shutdown requested by client",
			logging.String(logging.FieldEventType, "server_shutdown_request"))
		if h.shutdown != nil {
			h.shutdown()
		}
		return protocol.OK(req, 0, "shutting down")
	case protocol.KindCompile:
		return h.compile(ctx, req)
	default:
		return protocol.Errorf(req, fmt.Sprintf("unsupported request kind %q", req.Kind))
	}
}

func (h *Handler) compile(ctx context.Context, req protocol.Request) protocol.Response {
	logger := logging.WithContext(ctx, h.logger)
	if req.WorkDir != "" && !filepath.IsAbs(req.WorkDir) {
		return protocol.Errorf(req, fmt.Sprintf("work_dir must be absolute, got %q", req.WorkDir))
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(h.defaultArgs)+len(req.Args))
	args = append(args, h.defaultArgs...)
	args = append(args, req.Args...)

	cmd := commandContext(ctx, h.command, args...) //nolint:gosec
	cmd.Dir = req.WorkDir
	cmd.Env = append(append(os.Environ(), h.env...), req.Env...)

	started := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(started)

	if err == nil {
		logger.Debug("compile finished",
			logging.Duration("duration", elapsed))
		return protocol.OK(req, 0, string(output))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return protocol.Errorf(req, fmt.Sprintf("compile timed out after %s", h.timeout))
		}
		return protocol.Errorf(req, "compile cancelled")
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Debug("compile failed",
			logging.Int("exit_code", exitErr.ExitCode()),
			logging.Duration("duration", elapsed))
		return protocol.OK(req, exitErr.ExitCode(), string(output))
	}

	logging.WarnWithContext(logger, "compiler could not be started", "compiler_start_failed",
		logging.String("command", h.command),
		logging.Error(err),
		logging.String(logging.FieldImpact, "compile requests fail until the compiler is available"),
		logging.String(logging.FieldErrorHint, "check compiler.command in the config file"))
	return protocol.Errorf(req, fmt.Sprintf("run %s: %v", h.command, err))
}
