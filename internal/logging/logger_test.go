package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"anvil/internal/config"
	"anvil/internal/logging"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesProcessLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Dir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, path, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if filepath.Dir(path) != cfg.Logging.Dir {
		t.Fatalf("log path %q not in %q", path, cfg.Logging.Dir)
	}
	if ok, _ := filepath.Match(logging.LogFilePattern, filepath.Base(path)); !ok {
		t.Fatalf("log file %q does not match %q", path, logging.LogFilePattern)
	}

	logger.Info("server started")
	if content := readLog(t, path); !strings.Contains(content, `"msg":"server started"`) {
		t.Fatalf("expected json line in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	if content := readLog(t, logPath); strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	if content := readLog(t, logPath); !strings.Contains(content, ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerPrefixesComponentAndSession(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "session").
		Info("request handled", logging.String(logging.FieldSessionID, "0123456789abcdef"), logging.Int("exit_code", 2))

	content := readLog(t, logPath)
	if !strings.Contains(content, "INFO session[01234567]: request handled exit_code=2") {
		t.Fatalf("unexpected console line %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "invalid", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")

	content := readLog(t, logPath)
	if strings.Contains(content, "hidden") || !strings.Contains(content, "shown") {
		t.Fatalf("expected info level filtering, got %q", content)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithSessionID(context.Background(), "sess-1")
	ctx = logging.WithRequestID(ctx, "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	var entry map[string]any
	if err := json.Unmarshal([]byte(readLog(t, logPath)), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry[logging.FieldSessionID] != "sess-1" {
		t.Fatalf("session_id = %v", entry[logging.FieldSessionID])
	}
	if entry[logging.FieldRequestID] != "req-xyz" {
		t.Fatalf("request_id = %v", entry[logging.FieldRequestID])
	}
}

func TestWithContextWithoutFieldsKeepsLogger(t *testing.T) {
	logger := logging.NewNop()
	if got := logging.WithContext(context.Background(), logger); got != logger {
		t.Fatal("expected the same logger when the context carries no fields")
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("keep-alive setting ignored", logging.Int("value", 3))

	var entry map[string]any
	if err := json.Unmarshal([]byte(readLog(t, logPath)), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := entry["ts"].(string); !ok {
		t.Fatalf("expected string ts, got %v", entry)
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("time key should be renamed, got %v", entry)
	}
	if entry["level"] != "warn" {
		t.Fatalf("level = %v, want warn", entry["level"])
	}
	if src, _ := entry["source"].(string); !strings.HasPrefix(src, "logger_test.go:") {
		t.Fatalf("source = %v, want logger_test.go:<line>", entry["source"])
	}
	if entry["value"] != float64(3) {
		t.Fatalf("value = %v", entry["value"])
	}
}
