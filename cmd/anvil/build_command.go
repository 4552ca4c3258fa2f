package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"anvil/internal/client"
)

const defaultLaunchWait = 10 * time.Second

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var workDir string
	var env []string
	var keepAlive int
	var noLaunch bool
	var launchWait time.Duration

	cmd := &cobra.Command{
		Use:   "build [--] [compiler args...]",
		Short: "Run the compiler through the server",
		Long: "Forward a compiler invocation to the running server, starting one if none answers.\n" +
			"Put compiler flags after `--` so they are not parsed as anvil flags.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workDir == "" {
				if workDir, err = os.Getwd(); err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
			}

			req := client.CompileRequest{WorkDir: workDir, Args: args, Env: env}
			if cmd.Flags().Changed("keep-alive") {
				if keepAlive < 0 {
					return fmt.Errorf("--keep-alive must be zero or positive, got %d", keepAlive)
				}
				d := time.Duration(keepAlive) * time.Second
				req.KeepAlive = &d
			}

			var c *client.Client
			if noLaunch {
				if c, _, err = ctx.connect(); err != nil {
					return err
				}
			} else {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("resolve executable: %w", err)
				}
				opts := ctx.launchOptions()
				if req.KeepAlive != nil {
					opts.KeepAlive = strconv.Itoa(keepAlive)
				}
				var launched bool
				c, launched, err = client.EnsureServer(cfg.Server.RuntimeDir, cfg.Server.PipeName, exe, opts, launchWait)
				if err != nil {
					return err
				}
				if launched {
					fmt.Fprintln(cmd.ErrOrStderr(), "Started anvil server")
				}
			}
			defer c.Close()

			code, output, err := c.Compile(cmd.Context(), req)
			if output != "" {
				_, _ = io.WriteString(cmd.OutOrStdout(), output)
			}
			if err != nil {
				return err
			}
			if code != 0 {
				return exitCodeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workDir, "workdir", "C", "", "Directory the compiler runs in (default: current directory)")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Extra KEY=VALUE for the compiler environment (repeatable)")
	cmd.Flags().IntVar(&keepAlive, "keep-alive", 0, "Ask the server to stay up this many seconds once idle")
	cmd.Flags().BoolVar(&noLaunch, "no-launch", false, "Fail instead of starting a server when none is running")
	cmd.Flags().DurationVar(&launchWait, "launch-timeout", defaultLaunchWait, "How long to wait for a started server")
	return cmd
}
