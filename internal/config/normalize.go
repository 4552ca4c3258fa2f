package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeServer(); err != nil {
		return err
	}
	c.normalizeCompiler()
	return c.normalizeLogging()
}

func (c *Config) normalizeServer() error {
	if value, ok := os.LookupEnv("ANVIL_KEEP_ALIVE"); ok {
		c.Server.KeepAlive = value
	}
	c.Server.KeepAlive = strings.TrimSpace(c.Server.KeepAlive)

	if value, ok := os.LookupEnv("ANVIL_RUNTIME_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Server.RuntimeDir = value
	}
	if strings.TrimSpace(c.Server.RuntimeDir) == "" {
		c.Server.RuntimeDir = defaultRuntimeDir()
	}
	var err error
	if c.Server.RuntimeDir, err = expandPath(strings.TrimSpace(c.Server.RuntimeDir)); err != nil {
		return fmt.Errorf("server.runtime_dir: %w", err)
	}

	c.Server.PipeName = strings.TrimSpace(c.Server.PipeName)
	if c.Server.PipeName == "" {
		c.Server.PipeName = defaultPipeName
	}
	if c.Server.GCDelaySeconds == 0 {
		c.Server.GCDelaySeconds = defaultGCDelaySeconds
	}
	return nil
}

func (c *Config) normalizeCompiler() {
	c.Compiler.Command = strings.TrimSpace(c.Compiler.Command)
	if c.Compiler.Command == "" {
		c.Compiler.Command = defaultCompiler
	}
	env := c.Compiler.Env[:0]
	for _, entry := range c.Compiler.Env {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			env = append(env, trimmed)
		}
	}
	c.Compiler.Env = env
}

func (c *Config) normalizeLogging() error {
	if value, ok := os.LookupEnv("ANVIL_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = defaultLogDir()
	}
	var err error
	if c.Logging.Dir, err = expandPath(strings.TrimSpace(c.Logging.Dir)); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}
