package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"croft/pkg/logging"
	"croft/pkg/store"
	"croft/pkg/supervisor"

	"github.com/spf13/cobra"
)

// newSuperviseCmd creates the "croft supervise" subcommand.
func newSuperviseCmd() *cobra.Command {
	var noAutostart bool

	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor in the foreground",
		Long: `Starts the supervisor: one worker process per stored account, the control
socket used by the other croft commands, and the account inbox watcher.
Stops all workers gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := loadConfig(nil, paths)
			if err != nil {
				return err
			}
			if noAutostart {
				cfg.Supervisor.Autostart = false
			}
			return runSupervisor(cmd.Context(), paths, cfg)
		},
	}

	cmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "do not start stored accounts on launch")
	return cmd
}

// runSupervisor holds the home instance for the lifetime of the supervisor
// so two supervisors never manage the same accounts.
func runSupervisor(ctx context.Context, paths *Paths, cfg *appConfig) error {
	inst, err := acquireInstance(paths)
	if err != nil {
		return err
	}
	defer inst.release()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(ctx, paths.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	handler := logging.NewHandler(os.Stderr, logging.LevelFromString(cfg.LogLevel))
	sup, err := supervisor.New(ctx, cfg.Supervisor, st, supervisor.NewExecSpawner(paths.Home),
		supervisor.WithLogHandler(handler))
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	sup.Logger().Info("supervisor started",
		"module", "supervisor", "event", "boot",
		"pid", os.Getpid(), "socket", paths.SocketPath, "revision", sup.Revision())

	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}
