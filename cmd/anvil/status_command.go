package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"anvil/internal/config"
	"anvil/internal/deps"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a server is running and how it is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			rows := [][]string{}
			c, rec, err := ctx.connect()
			switch {
			case err == nil:
				started := time.Now()
				pingErr := c.Ping(cmd.Context())
				latency := time.Since(started)
				_ = c.Close()
				if pingErr != nil {
					rows = append(rows, []string{"Server", "unresponsive: " + pingErr.Error()})
				} else {
					rows = append(rows, []string{"Server", "running"})
					rows = append(rows, []string{"Ping", latency.Round(time.Microsecond).String()})
				}
				rows = append(rows, []string{"PID", strconv.Itoa(rec.PID)})
				rows = append(rows, []string{"Socket", rec.Socket})
			case errors.Is(err, errNotRunning):
				rows = append(rows, []string{"Server", "not running"})
			default:
				return err
			}

			rows = append(rows, []string{"Runtime dir", cfg.Server.RuntimeDir})
			configLabel := ctx.configPath
			if !ctx.configExists {
				configLabel += " (defaults)"
			}
			rows = append(rows, []string{"Config", configLabel})
			rows = append(rows, []string{"Keep-alive", describeKeepAlive(cfg.Server.KeepAlive)})
			for _, status := range deps.CheckBinaries(deps.CompilerRequirements(cfg.Compiler.Command)) {
				value := status.Path
				if !status.Available {
					value = status.Detail
				}
				rows = append(rows, []string{"Compiler", value})
				rows = append(rows, []string{"Compiler found", yesNo(status.Available)})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Item", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	}
}

func describeKeepAlive(value string) string {
	d, enabled, valid := config.ParseKeepAlive(value)
	switch {
	case !enabled:
		return "none"
	case !valid:
		return fmt.Sprintf("%s (invalid %q ignored)", d, value)
	default:
		return d.String()
	}
}
