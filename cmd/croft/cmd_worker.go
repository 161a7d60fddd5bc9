package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"croft/pkg/game/sim"
	"croft/pkg/worker"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the hidden "croft worker" subcommand. The supervisor
// spawns it once per account and talks to it over stdin/stdout.
func newWorkerCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one account worker (spawned by the supervisor)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if accountID == "" {
				return fmt.Errorf("--account is required")
			}
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			cfg, err := loadConfig(nil, paths)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), accountID, cfg.Worker)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id this worker serves (required)")
	return cmd
}

// runWorker runs the worker message loop on the process's standard streams.
func runWorker(ctx context.Context, accountID string, cfg worker.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	w := worker.New(os.Stdin, os.Stdout, sim.New(sim.Options{}),
		worker.WithStderr(os.Stderr),
		worker.WithConfig(cfg),
	)
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", accountID, err)
	}
	return nil
}
