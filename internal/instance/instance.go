// Package instance publishes which server process clients should talk to.
//
// The publishing server holds an exclusive flock on <runtime_dir>/<name>.lock
// and records its pid in <runtime_dir>/<name>.pid. A pid file is trusted only
// while its lock is held, so a crashed server never strands its clients.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"anvil/internal/endpoint"
)

// ErrNotRunning reports that no server is published in a runtime directory.
var ErrNotRunning = errors.New("no running server")

// Record identifies a published server.
type Record struct {
	PID    int
	Socket string
}

// Instance is the publication held by a running server.
type Instance struct {
	lock    *flock.Flock
	pidPath string
	record  Record
}

// LockPath returns the lock file guarding publication for base in dir.
func LockPath(dir, base string) string {
	return filepath.Join(dir, stem(base)+".lock")
}

// PIDPath returns the pid file for base in dir.
func PIDPath(dir, base string) string {
	return filepath.Join(dir, stem(base)+".pid")
}

func stem(base string) string {
	trimmed := strings.TrimRight(base, "-_.")
	if trimmed == "" {
		return "anvil"
	}
	return trimmed
}

// Publish makes the current process the server clients discover in dir. It
// reports false without error when another live server already holds the
// publication.
func Publish(dir, base string) (*Instance, bool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, fmt.Errorf("create runtime dir: %w", err)
	}
	lock := flock.New(LockPath(dir, base))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	pid := os.Getpid()
	pidPath := PIDPath(dir, base)
	if err := writePIDFile(pidPath, pid); err != nil {
		_ = lock.Unlock()
		return nil, false, fmt.Errorf("write pid file: %w", err)
	}
	return &Instance{
		lock:    lock,
		pidPath: pidPath,
		record:  Record{PID: pid, Socket: endpoint.Path(dir, base, pid)},
	}, true, nil
}

// Record returns what clients will discover.
func (i *Instance) Record() Record {
	return i.record
}

// Release withdraws the publication.
func (i *Instance) Release() error {
	if i == nil || i.lock == nil {
		return nil
	}
	if err := os.Remove(i.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = i.lock.Unlock()
		return fmt.Errorf("remove pid file: %w", err)
	}
	if err := i.lock.Unlock(); err != nil {
		return fmt.Errorf("release instance lock: %w", err)
	}
	i.lock = nil
	return nil
}

// Discover returns the server published in dir for base.
func Discover(dir, base string) (Record, error) {
	lockPath := LockPath(dir, base)
	if _, err := os.Stat(lockPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotRunning
		}
		return Record{}, fmt.Errorf("stat instance lock: %w", err)
	}

	check := flock.New(lockPath)
	free, err := check.TryRLock()
	if err != nil {
		return Record{}, fmt.Errorf("test instance lock: %w", err)
	}
	if free {
		_ = check.Unlock()
		return Record{}, ErrNotRunning
	}

	data, err := os.ReadFile(PIDPath(dir, base))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// The server holds the lock but has not written its pid yet.
			return Record{}, ErrNotRunning
		}
		return Record{}, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return Record{}, fmt.Errorf("parse pid file %s: invalid pid %q", PIDPath(dir, base), strings.TrimSpace(string(data)))
	}
	return Record{PID: pid, Socket: endpoint.Path(dir, base, pid)}, nil
}

func writePIDFile(path string, pid int) error {
	value := strconv.Itoa(pid) + "\n"
	return os.WriteFile(path, []byte(value), 0o600)
}
