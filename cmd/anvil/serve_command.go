package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"anvil/internal/compiler"
	"anvil/internal/config"
	"anvil/internal/deps"
	"anvil/internal/endpoint"
	"anvil/internal/instance"
	"anvil/internal/logging"
	"anvil/internal/server"
	"anvil/internal/session"
	"anvil/internal/watch"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var keepAlive string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compile server in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("keep-alive") {
				cfg.Server.KeepAlive = keepAlive
			}
			return runServer(cmd.Context(), cfg, ctx.configPath, ctx.configExists)
		},
	}

	cmd.Flags().StringVar(&keepAlive, "keep-alive", "", "Seconds to stay up once idle (0 disables the idle timeout)")
	return cmd
}

func runServer(parent context.Context, cfg *config.Config, configPath string, configExists bool) error {
	logger, logPath, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logging.NewComponentLogger(logger, "serve")
	logging.PruneServerLogs(logger, cfg.Logging.Dir, cfg.Logging.RetentionDays, logPath)

	keepAlive, enabled, valid := config.ParseKeepAlive(cfg.Server.KeepAlive)
	if !valid {
		logging.WarnWithContext(logger, "keep-alive setting ignored", "config_keep_alive_invalid",
			logging.String("value", cfg.Server.KeepAlive),
			logging.Duration("keep_alive", keepAlive),
			logging.String(logging.FieldImpact, "server uses the default idle timeout"),
			logging.String(logging.FieldErrorHint, "set server.keep_alive or ANVIL_KEEP_ALIVE to a whole number of seconds"))
	}

	signalCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	if configExists {
		watchConfig(runCtx, cancel, configPath, logger)
	}

	dir, base := cfg.Server.RuntimeDir, cfg.Server.PipeName
	inst, published, err := instance.Publish(dir, base)
	if err != nil {
		logging.ErrorWithContext(logger, "publish server failed", "server_publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check runtime_dir permissions"))
		return err
	}
	if published {
		defer func() {
			if err := inst.Release(); err != nil {
				logger.Warn("release publication failed", logging.Error(err))
			}
		}()
	} else {
		logging.WarnWithContext(logger, "another server is already published; serving unpublished", "server_not_published",
			logging.String("runtime_dir", dir),
			logging.String(logging.FieldImpact, "clients will not discover this server"),
			logging.String(logging.FieldErrorHint, "stop the other server or use a different runtime_dir"))
	}

	checkCompiler(cfg, logger)

	listener := endpoint.NewListener(endpoint.Path(dir, base, os.Getpid()), logger)
	defer listener.Close()

	handler := compiler.New(cfg.Compiler.Command,
		compiler.WithDefaultArgs(cfg.Compiler.DefaultArgs),
		compiler.WithEnv(cfg.Compiler.Env),
		compiler.WithTimeout(cfg.CompileTimeout()),
		compiler.WithShutdown(cancel),
		compiler.WithLogger(logger),
	)

	dispatcher, err := server.New(server.Options{
		Listener:  listener,
		Handler:   session.NewHost(handler, logger),
		KeepAlive: server.NewKeepAlivePolicy(keepAlive, enabled),
		GCDelay:   cfg.GCDelay(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("anvil server starting",
		logging.String("socket", listener.Path()),
		logging.Bool("published", published),
		logging.String("log_file", logPath),
		logging.String(logging.FieldEventType, "server_start"))

	if err := dispatcher.Run(runCtx); err != nil {
		logging.ErrorWithContext(logger, "server stopped with error", "server_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that runtime_dir is writable and the socket path is not too long"))
		return err
	}
	logger.Info("anvil server stopped", logging.String(logging.FieldEventType, "server_stop"))
	return nil
}

// watchConfig cancels the server the first time its configuration file changes.
func watchConfig(ctx context.Context, cancel context.CancelFunc, path string, logger *slog.Logger) {
	changes, err := watch.ConfigChanges(ctx, path, logger)
	if err != nil {
		logging.WarnWithContext(logger, "config watch unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "config edits will not restart the server"),
			logging.String(logging.FieldErrorHint, "run `anvil stop` after editing the config"))
		return
	}
	go func() {
		select {
		case <-changes:
			logger.Info("configuration changed; shutting down",
				logging.String("path", path),
				logging.String(logging.FieldEventType, "config_changed"))
			cancel()
		case <-ctx.Done():
		}
	}()
}

func checkCompiler(cfg *config.Config, logger *slog.Logger) {
	for _, status := range deps.CheckBinaries(deps.CompilerRequirements(cfg.Compiler.Command)) {
		if status.Available {
			logger.Debug("compiler found", logging.String("path", status.Path))
			continue
		}
		logging.WarnWithContext(logger, "compiler unavailable", "compiler_missing",
			logging.String("command", status.Command),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldImpact, "compile requests will fail"),
			logging.String(logging.FieldErrorHint, "install the compiler or set compiler.command"))
	}
}
