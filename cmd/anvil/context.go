package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"anvil/internal/client"
	"anvil/internal/config"
	"anvil/internal/instance"
)

type commandContext struct {
	configFlag     *string
	runtimeDirFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, runtimeDirFlag *string) *commandContext {
	return &commandContext{
		configFlag:     configFlag,
		runtimeDirFlag: runtimeDirFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if c.runtimeDirFlag != nil && strings.TrimSpace(*c.runtimeDirFlag) != "" {
			dir, err := config.ExpandPath(strings.TrimSpace(*c.runtimeDirFlag))
			if err != nil {
				c.configErr = fmt.Errorf("resolve runtime dir: %w", err)
				return
			}
			cfg.Server.RuntimeDir = dir
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// connect dials the published server without launching one.
func (c *commandContext) connect() (*client.Client, instance.Record, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, instance.Record{}, err
	}
	cl, rec, err := client.Connect(cfg.Server.RuntimeDir, cfg.Server.PipeName)
	if err != nil {
		return nil, rec, wrapDialError(err, cfg.Server.RuntimeDir)
	}
	return cl, rec, nil
}

// launchOptions forwards the settings this invocation resolved to a server
// started on its behalf.
func (c *commandContext) launchOptions() client.LaunchOptions {
	opts := client.LaunchOptions{}
	if c.configExists {
		opts.ConfigPath = c.configPath
	}
	if c.config != nil {
		opts.RuntimeDir = c.config.Server.RuntimeDir
	}
	return opts
}

var errNotRunning = errors.New("anvil server is not running")

func wrapDialError(err error, dir string) error {
	switch {
	case errors.Is(err, instance.ErrNotRunning):
		return fmt.Errorf("%w in %s; start it with `anvil serve`", errNotRunning, dir)
	case client.IsUnavailable(err):
		return fmt.Errorf("%w: socket in %s refused the connection: %v", errNotRunning, dir, err)
	default:
		return fmt.Errorf("connect to server: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
