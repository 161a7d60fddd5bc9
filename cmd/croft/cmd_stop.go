package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "croft stop" subcommand.
func newStopCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running supervisor",
		Long: `Sends SIGTERM to the supervisor, which stops every worker before exiting.
A PID file or control socket left behind by a supervisor that died is removed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			return stopSupervisor(cmd.OutOrStdout(), paths, wait, 100*time.Millisecond)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the supervisor to exit (0 to return immediately)")
	return cmd
}

// stopSupervisor signals the supervisor owning paths.Home and, if wait is
// positive, waits until it has released the home lock.
func stopSupervisor(w io.Writer, paths *Paths, wait, poll time.Duration) error {
	state, pid, err := inspectInstance(paths)
	if err != nil {
		return err
	}

	switch state {
	case stateStopped:
		fmt.Fprintln(w, "supervisor is not running")
		return nil
	case stateStale:
		fmt.Fprintf(w, "supervisor is not running, removing stale files (PID %d)\n", pid)
		return clearLeftovers(paths)
	case stateRunning:
	}

	if pid == 0 {
		return errors.New("supervisor holds the lock but has not written its PID yet, retry shortly")
	}
	if err := terminate(pid); err != nil {
		return err
	}
	if wait <= 0 {
		fmt.Fprintf(w, "sent SIGTERM to supervisor (PID %d)\n", pid)
		return nil
	}

	deadline := time.Now().Add(wait)
	for {
		held, err := lockHeld(paths.LockPath)
		if err != nil {
			return err
		}
		if !held {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor (PID %d) still running after %s", pid, wait)
		}
		time.Sleep(poll)
	}
	fmt.Fprintf(w, "supervisor stopped (PID %d)\n", pid)
	return nil
}
