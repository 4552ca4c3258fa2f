package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"

	"anvil/internal/config"
)

// isolate points every XDG directory and anvil override at a temp tree.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(root, "run"))
	for _, key := range []string{"ANVIL_CONFIG", "ANVIL_KEEP_ALIVE", "ANVIL_RUNTIME_DIR", "ANVIL_LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return root
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	root := isolate(t)

	cfg, path, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected no config file")
	}
	if want := filepath.Join(root, "config", "anvil", "config.toml"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if cfg.Server.PipeName != "anvil-" {
		t.Fatalf("pipe name = %q", cfg.Server.PipeName)
	}
	if want := filepath.Join(root, "run", "anvil"); cfg.Server.RuntimeDir != want {
		t.Fatalf("runtime dir = %q, want %q", cfg.Server.RuntimeDir, want)
	}
	if want := filepath.Join(root, "state", "anvil", "logs"); cfg.Logging.Dir != want {
		t.Fatalf("log dir = %q, want %q", cfg.Logging.Dir, want)
	}
	if d, ok := cfg.KeepAlive(); !ok || d != config.DefaultKeepAlive {
		t.Fatalf("keep-alive = %v,%v", d, ok)
	}
	if cfg.GCDelay() != 30*time.Second {
		t.Fatalf("gc delay = %v", cfg.GCDelay())
	}
	if cfg.CompileTimeout() != 0 {
		t.Fatalf("compile timeout = %v", cfg.CompileTimeout())
	}
}

func TestLoadFromFile(t *testing.T) {
	root := isolate(t)
	path := filepath.Join(root, "anvil.toml")
	content := `
[server]
pipe_name = "build-"
runtime_dir = "~/sockets"
keep_alive = "0"
gc_delay_seconds = 5

[compiler]
command = "clang"
default_args = ["-O2"]
timeout_seconds = 60
env = ["LANG=C", "  "]

[logging]
format = "JSON"
level = "Debug"
dir = "~/logs"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved=%q exists=%v", resolved, exists)
	}
	if cfg.Server.PipeName != "build-" {
		t.Fatalf("pipe name = %q", cfg.Server.PipeName)
	}
	if want := filepath.Join(root, "sockets"); cfg.Server.RuntimeDir != want {
		t.Fatalf("runtime dir = %q, want %q", cfg.Server.RuntimeDir, want)
	}
	if _, ok := cfg.KeepAlive(); ok {
		t.Fatal("expected keep-alive disabled")
	}
	if cfg.GCDelay() != 5*time.Second || cfg.CompileTimeout() != time.Minute {
		t.Fatalf("gc=%v timeout=%v", cfg.GCDelay(), cfg.CompileTimeout())
	}
	if cfg.Compiler.Command != "clang" || len(cfg.Compiler.DefaultArgs) != 1 {
		t.Fatalf("compiler = %+v", cfg.Compiler)
	}
	if len(cfg.Compiler.Env) != 1 || cfg.Compiler.Env[0] != "LANG=C" {
		t.Fatalf("env = %q", cfg.Compiler.Env)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if want := filepath.Join(root, "logs"); cfg.Logging.Dir != want {
		t.Fatalf("log dir = %q, want %q", cfg.Logging.Dir, want)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	root := isolate(t)
	path := filepath.Join(root, "anvil.toml")
	if err := os.WriteFile(path, []byte("[server]\nkeep_alive = \"60\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANVIL_KEEP_ALIVE", "900")
	t.Setenv("ANVIL_RUNTIME_DIR", filepath.Join(root, "elsewhere"))
	t.Setenv("ANVIL_LOG_LEVEL", "warn")

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if d, ok := cfg.KeepAlive(); !ok || d != 900*time.Second {
		t.Fatalf("keep-alive = %v,%v", d, ok)
	}
	if want := filepath.Join(root, "elsewhere"); cfg.Server.RuntimeDir != want {
		t.Fatalf("runtime dir = %q, want %q", cfg.Server.RuntimeDir, want)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestConfigEnvSelectsFile(t *testing.T) {
	root := isolate(t)
	path := filepath.Join(root, "custom.toml")
	if err := os.WriteFile(path, []byte("[compiler]\ncommand = \"gcc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANVIL_CONFIG", path)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path || cfg.Compiler.Command != "gcc" {
		t.Fatalf("resolved=%q exists=%v command=%q", resolved, exists, cfg.Compiler.Command)
	}
}

func TestRuntimeDirFallsBackToCache(t *testing.T) {
	root := isolate(t)
	t.Setenv("XDG_RUNTIME_DIR", "")
	os.Unsetenv("XDG_RUNTIME_DIR")
	xdg.Reload()

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	// Some platforms always report a runtime dir; only assert the fallback when none is set.
	if xdg.RuntimeDir == "" {
		if want := filepath.Join(root, "cache", "anvil", "run"); cfg.Server.RuntimeDir != want {
			t.Fatalf("runtime dir = %q, want %q", cfg.Server.RuntimeDir, want)
		}
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "[server]\nport = 1\n", "parse config"},
		{"pipe separator", "[server]\npipe_name = \"a/b\"\n", "pipe_name"},
		{"negative gc", "[server]\ngc_delay_seconds = -1\n", "gc_delay_seconds"},
		{"negative timeout", "[compiler]\ntimeout_seconds = -1\n", "timeout_seconds"},
		{"bad env", "[compiler]\nenv = [\"NOEQUALS\"]\n", "compiler.env"},
		{"bad format", "[logging]\nformat = \"xml\"\n", "logging.format"},
		{"bad level", "[logging]\nlevel = \"loud\"\n", "logging.level"},
		{"negative retention", "[logging]\nretention_days = -2\n", "retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := isolate(t)
			path := filepath.Join(root, "anvil.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsDirectory(t *testing.T) {
	root := isolate(t)
	if _, _, _, err := config.Load(root); err == nil {
		t.Fatal("expected error for directory config path")
	}
}

func TestParseKeepAlive(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		enabled bool
		valid   bool
	}{
		{"", config.DefaultKeepAlive, true, true},
		{"0", 0, false, true},
		{"120", 2 * time.Minute, true, true},
		{" 600 ", 10 * time.Minute, true, true},
		{"-5", config.DefaultKeepAlive, true, false},
		{"soon", config.DefaultKeepAlive, true, false},
		{"1.5", config.DefaultKeepAlive, true, false},
		{"9223372036", 9223372036 * time.Second, true, true},
		{"9223372037", config.DefaultKeepAlive, true, false},
		{"10000000000", config.DefaultKeepAlive, true, false},
		{"99999999999999999999", config.DefaultKeepAlive, true, false},
	}
	for _, tt := range tests {
		d, enabled, valid := config.ParseKeepAlive(tt.value)
		if d != tt.want || enabled != tt.enabled || valid != tt.valid {
			t.Fatalf("ParseKeepAlive(%q) = %v,%v,%v want %v,%v,%v", tt.value, d, enabled, valid, tt.want, tt.enabled, tt.valid)
		}
	}
}

func TestCreateSampleLoads(t *testing.T) {
	root := isolate(t)
	path := filepath.Join(root, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if d, ok := cfg.KeepAlive(); !ok || d != config.DefaultKeepAlive {
		t.Fatalf("sample keep-alive = %v,%v", d, ok)
	}
}

func TestExpandPathTilde(t *testing.T) {
	root := isolate(t)
	got, err := config.ExpandPath("~/x/../y")
	if err != nil {
		t.Fatalf("ExpandPath returned error: %v", err)
	}
	if want := filepath.Join(root, "y"); got != want {
		t.Fatalf("ExpandPath = %q, want %q", got, want)
	}
}
