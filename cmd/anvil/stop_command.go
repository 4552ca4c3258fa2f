package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"anvil/internal/client"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the running server to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c, rec, err := ctx.connect()
			if err != nil {
				if errors.Is(err, errNotRunning) {
					fmt.Fprintln(out, "anvil server is not running")
					return nil
				}
				return err
			}
			err = c.Shutdown(cmd.Context())
			_ = c.Close()
			if err != nil {
				return fmt.Errorf("request shutdown: %w", err)
			}

			cfg, _ := ctx.ensureConfig()
			if err := client.WaitForShutdown(cfg.Server.RuntimeDir, cfg.Server.PipeName, wait); err != nil {
				return err
			}
			fmt.Fprintf(out, "Stopped anvil server (pid %d)\n", rec.PID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for in-flight compiles to finish")
	return cmd
}
