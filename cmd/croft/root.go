package main

import (
	"fmt"

	"croft/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root croft command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "croft",
		Short:         "Multi-account farm automation supervisor",
		Long:          "croft runs one worker process per game account under a single supervisor.\nThe other commands talk to a running supervisor over its control socket.",
		Version:       fmt.Sprintf("croft %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().String(socketFlag, "", "control socket path (default $CROFT_HOME/croft.sock)")

	cmd.AddCommand(
		newSuperviseCmd(),
		newStopCmd(),
		newWorkerCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newAuditCmd(),
		newAccountCmd(),
		newSettingsCmd(),
		newCallCmd(),
	)

	return cmd
}
