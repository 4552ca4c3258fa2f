package endpoint

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"anvil/internal/async"
	"anvil/internal/logging"
)

func socketDir(t *testing.T) string {
	t.Helper()
	// t.TempDir paths can exceed the sun_path limit on some hosts.
	dir, err := os.MkdirTemp("", "anvil-ep")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "run")
}

func waitOp[T any](t *testing.T, op *async.Op[T]) (T, error) {
	t.Helper()
	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not complete")
	}
	return op.Result()
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNamingMatchesBetweenServerAndClient(t *testing.T) {
	if got := Name("anvil-", 4242); got != "anvil-4242" {
		t.Fatalf("Name = %q", got)
	}
	server := Path("/run/user/1000/anvil", "anvil-", 4242)
	client := filepath.Join("/run/user/1000/anvil", Name("anvil-", 4242)+".sock")
	if server != client {
		t.Fatalf("server path %q != client path %q", server, client)
	}
}

func TestListenerAcceptsOwnerAndSecuresSocket(t *testing.T) {
	dir := socketDir(t)
	path := Path(dir, "anvil-", os.Getpid())
	l := NewListener(path, logging.NewNop())
	t.Cleanup(func() { _ = l.Close() })

	op := l.BeginListen(context.Background())
	client := dial(t, path)

	conn, err := waitOp(t, op)
	if err != nil {
		t.Fatalf("BeginListen: %v", err)
	}
	defer conn.Close()

	if _, err := client.Write([]byte("x")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := io.ReadFull(conn, buf); err != nil || buf[0] != 'x' {
		t.Fatalf("server read = %q, %v", buf, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode().Perm() != socketMode {
		t.Fatalf("socket mode = %v, want %v", info.Mode().Perm(), socketMode)
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if dirInfo.Mode().Perm() != dirMode {
		t.Fatalf("dir mode = %v, want %v", dirInfo.Mode().Perm(), dirMode)
	}
}

func TestEachListenAcceptsOnce(t *testing.T) {
	path := Path(socketDir(t), "anvil-", 1)
	l := NewListener(path, logging.NewNop())
	t.Cleanup(func() { _ = l.Close() })

	for i := 0; i < 2; i++ {
		op := l.BeginListen(context.Background())
		dial(t, path)
		conn, err := waitOp(t, op)
		if err != nil {
			t.Fatalf("listen %d: %v", i, err)
		}
		_ = conn.Close()
	}
}

func TestCancelledListenRemovesSocketAndCanRestart(t *testing.T) {
	path := Path(socketDir(t), "anvil-", 2)
	l := NewListener(path, logging.NewNop())
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	op := l.BeginListen(ctx)
	cancel()
	if _, err := waitOp(t, op); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected socket removed, stat err = %v", err)
	}

	op = l.BeginListen(context.Background())
	dial(t, path)
	conn, err := waitOp(t, op)
	if err != nil {
		t.Fatalf("listen after cancel: %v", err)
	}
	_ = conn.Close()
}

func TestListenerRefusesWhenMemoryLow(t *testing.T) {
	path := Path(socketDir(t), "anvil-", 3)
	l := NewListener(path, logging.NewNop())
	l.admit = func() bool { return false }
	t.Cleanup(func() { _ = l.Close() })

	op := l.BeginListen(context.Background())
	client := dial(t, path)
	if _, err := waitOp(t, op); !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected refused client to see EOF, got %v", err)
	}

	// The endpoint survives a refusal.
	l.admit = func() bool { return true }
	op = l.BeginListen(context.Background())
	dial(t, path)
	conn, err := waitOp(t, op)
	if err != nil {
		t.Fatalf("listen after refusal: %v", err)
	}
	_ = conn.Close()
}

func TestListenerRejectsForeignPeer(t *testing.T) {
	path := Path(socketDir(t), "anvil-", 4)
	l := NewListener(path, logging.NewNop())
	l.checkPeer = func(*net.UnixConn) error { return errors.New("uid 0 does not match") }
	t.Cleanup(func() { _ = l.Close() })

	op := l.BeginListen(context.Background())
	dial(t, path)
	if _, err := waitOp(t, op); !errors.Is(err, ErrPeerRejected) {
		t.Fatalf("expected ErrPeerRejected, got %v", err)
	}
}

func TestVerifyPeerAcceptsSameUser(t *testing.T) {
	path := Path(socketDir(t), "anvil-", 5)
	l := NewListener(path, logging.NewNop())
	t.Cleanup(func() { _ = l.Close() })

	op := l.BeginListen(context.Background())
	dial(t, path)
	conn, err := waitOp(t, op)
	if err != nil {
		t.Fatalf("BeginListen: %v", err)
	}
	defer conn.Close()
	if err := verifyPeer(conn.(*net.UnixConn)); err != nil {
		t.Fatalf("verifyPeer: %v", err)
	}
}

func TestEndpointConstructionFailure(t *testing.T) {
	base := socketDir(t)
	if err := os.MkdirAll(filepath.Dir(base), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// A regular file where the runtime directory should be.
	if err := os.WriteFile(base, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	l := NewListener(Path(base, "anvil-", 6), logging.NewNop())

	op := l.BeginListen(context.Background())
	if _, err := waitOp(t, op); !errors.Is(err, ErrEndpoint) {
		t.Fatalf("expected ErrEndpoint, got %v", err)
	}
}
