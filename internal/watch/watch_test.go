package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"anvil/internal/logging"
)

func TestConfigChangesFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[server]\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed, err := ConfigChanges(ctx, path, logging.NewNop())
	if err != nil {
		t.Fatalf("ConfigChanges: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	select {
	case <-changed:
		t.Fatal("unrelated file should not trigger a change")
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("[server]\nkeep_alive = \"60\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not reported")
	}
}

func TestConfigChangesFiresOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	changed, err := ConfigChanges(context.Background(), path, logging.NewNop())
	if err != nil {
		t.Fatalf("ConfigChanges: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove config: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("config removal was not reported")
	}
}

func TestConfigChangesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.toml")
	if _, err := ConfigChanges(context.Background(), path, logging.NewNop()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
