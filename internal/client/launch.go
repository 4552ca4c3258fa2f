package client

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"anvil/internal/instance"
)

const pollInterval = 200 * time.Millisecond

// LaunchOptions controls how a detached server is started.
type LaunchOptions struct {
	ConfigPath string
	RuntimeDir string
	KeepAlive  string
}

var launch = Launch

// Launch starts a detached `anvil serve` process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if dir := strings.TrimSpace(opts.RuntimeDir); dir != "" {
		args = append(args, "--runtime-dir", dir)
	}
	if keepAlive := strings.TrimSpace(opts.KeepAlive); keepAlive != "" {
		args = append(args, "--keep-alive", keepAlive)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch server: %w", err)
	}
	return proc.Process.Release()
}

// Connect dials the server published in dir.
func Connect(dir, base string) (*Client, instance.Record, error) {
	rec, err := instance.Discover(dir, base)
	if err != nil {
		return nil, instance.Record{}, err
	}
	c, err := Dial(rec.Socket)
	if err != nil {
		return nil, rec, err
	}
	return c, rec, nil
}

// WaitForServer polls until a published server accepts a connection.
func WaitForServer(dir, base string, timeout time.Duration) (*Client, instance.Record, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		c, rec, err := Connect(dir, base)
		if err == nil {
			return c, rec, nil
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for server")
	}
	return nil, instance.Record{}, fmt.Errorf("server failed to start: %w", lastErr)
}

// EnsureServer connects to the published server, launching one first if none
// answers. It reports whether a server was launched.
func EnsureServer(dir, base, executablePath string, opts LaunchOptions, timeout time.Duration) (*Client, bool, error) {
	c, _, err := Connect(dir, base)
	if err == nil {
		return c, false, nil
	}
	if !IsUnavailable(err) {
		return nil, false, err
	}
	if err := launch(executablePath, opts); err != nil {
		return nil, false, err
	}
	c, _, err = WaitForServer(dir, base, timeout)
	if err != nil {
		return nil, true, err
	}
	return c, true, nil
}

// WaitForShutdown polls until no server is published in dir.
func WaitForShutdown(dir, base string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := instance.Discover(dir, base); errors.Is(err, instance.ErrNotRunning) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("server did not stop within %s", timeout)
}

// IsUnavailable reports whether err means there is no server to talk to.
func IsUnavailable(err error) bool {
	return errors.Is(err, instance.ErrNotRunning) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
