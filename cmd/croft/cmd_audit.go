package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"croft/pkg/logbuf"
	"croft/pkg/protocol"

	"github.com/spf13/cobra"
)

// newAuditCmd creates the "croft audit" subcommand.
func newAuditCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit [account-id]",
		Short: "Show account lifecycle events",
		Long:  "Lists account additions, removals and automatic deletions, newest first.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var accountID string
			if len(args) == 1 {
				accountID = args[0]
			}
			var entries []protocol.AuditEntry
			if err := control(cmd, protocol.OpAudit, accountID, protocol.LogQuery{Limit: limit}, &entries); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, entries)
			}
			printAudit(w, newStyles(w), entries)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", logbuf.DefaultLimit, "maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printAudit(w io.Writer, st styles, entries []protocol.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit events")
		return
	}
	for _, e := range entries {
		action := fmt.Sprintf("%-15s", e.Action)
		if e.Action == protocol.AuditOfflineDelete || e.Action == protocol.AuditKickoutDelete {
			action = st.Warn.Render(action)
		}
		fmt.Fprintf(w, "%s %s %s%s\n",
			st.Dim.Render(e.Time.Local().Format("2006-01-02 15:04:05")),
			action, e.Msg, formatExtra(e.Extra))
	}
}

func formatExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+extra[k])
	}
	return " (" + strings.Join(parts, " ") + ")"
}
