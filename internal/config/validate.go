package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateCompiler(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.PipeName == "" {
		return errors.New("server.pipe_name must be set")
	}
	if strings.ContainsAny(c.Server.PipeName, `/\`) {
		return fmt.Errorf("server.pipe_name %q must not contain path separators", c.Server.PipeName)
	}
	if c.Server.RuntimeDir == "" {
		return errors.New("server.runtime_dir must be set")
	}
	if c.Server.GCDelaySeconds < 0 {
		return errors.New("server.gc_delay_seconds must be positive")
	}
	return nil
}

func (c *Config) validateCompiler() error {
	if c.Compiler.Command == "" {
		return errors.New("compiler.command must be set")
	}
	if c.Compiler.TimeoutSeconds < 0 {
		return errors.New("compiler.timeout_seconds must be zero or positive")
	}
	for _, entry := range c.Compiler.Env {
		if !strings.Contains(entry, "=") {
			return fmt.Errorf("compiler.env entry %q must be KEY=VALUE", entry)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console, json, or auto)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q (want debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
