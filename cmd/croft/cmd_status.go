package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"croft/pkg/protocol"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "croft status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [account-id]",
		Short: "Show account status",
		Long:  "Without an argument, lists every account with its connection state.\nWith an account id, shows that account's full status snapshot.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			st := newStyles(w)

			if len(args) == 1 {
				var snap protocol.StatusSnapshot
				if err := control(cmd, protocol.OpStatus, args[0], nil, &snap); err != nil {
					return err
				}
				renderStatusDetail(w, st, snap)
				return nil
			}

			var snaps []protocol.StatusSnapshot
			if err := control(cmd, protocol.OpStatus, "", nil, &snaps); err != nil {
				return err
			}
			renderStatusTable(w, st, snaps)
			return nil
		},
	}
}

func connectionLabel(st styles, connected bool, width int) string {
	label, style := "offline", st.Offline
	if connected {
		label, style = "online", st.Online
	}
	return style.Render(fmt.Sprintf("%-*s", width, label))
}

// renderStatusTable prints one line per account. Columns are padded before
// styling so escape codes do not break the alignment.
func renderStatusTable(w io.Writer, st styles, snaps []protocol.StatusSnapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "no accounts")
		return
	}
	fmt.Fprintln(w, st.Header.Render(fmt.Sprintf("%-20s %-16s %-8s %5s %10s %10s %s",
		"ACCOUNT", "NAME", "STATE", "LEVEL", "GOLD", "EXP", "REVISION")))
	for _, s := range snaps {
		fmt.Fprintf(w, "%-20s %-16s %s %5d %10d %10d %d\n",
			truncate(s.AccountID, 20), truncate(s.AccountName, 16),
			connectionLabel(st, s.Connection.Connected, 8),
			s.User.Level, s.User.Gold, s.User.Exp, s.ConfigRevision)
	}
}

// renderStatusDetail prints every section of one snapshot.
func renderStatusDetail(w io.Writer, st styles, s protocol.StatusSnapshot) {
	fmt.Fprintf(w, "%s %s (%s)\n", st.Header.Render("account"), s.AccountName, s.AccountID)
	fmt.Fprintf(w, "  state      %s\n", connectionLabel(st, s.Connection.Connected, 0))
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(w, "  started    %s\n", s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "  player     %s  level %d  gold %d  exp %d\n", s.User.Name, s.User.Level, s.User.Gold, s.User.Exp)
	if s.ExpProgress.Needed > 0 {
		fmt.Fprintf(w, "  progress   %d/%d to level %d\n", s.ExpProgress.Current, s.ExpProgress.Needed, s.ExpProgress.Level+1)
	}
	fmt.Fprintf(w, "  session    +%d exp  +%d gold  (last +%d exp, +%d gold)\n",
		s.SessionExpGained, s.SessionGoldGained, s.LastExpGain, s.LastGoldGain)
	fmt.Fprintf(w, "  seed       %s\n", seedLabel(s.PreferredSeedID))
	fmt.Fprintf(w, "  revision   %d\n", s.ConfigRevision)

	fmt.Fprintln(w, st.Header.Render("operations"))
	for _, k := range protocol.OperationKeys {
		fmt.Fprintf(w, "  %-10s %d\n", k, s.Operations[k])
	}

	if len(s.Limits) > 0 {
		fmt.Fprintln(w, st.Header.Render("daily limits"))
		keys := make([]string, 0, len(s.Limits))
		for k := range s.Limits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			l := s.Limits[k]
			fmt.Fprintf(w, "  %-10s %d/%d\n", k, l.Used, l.Limit)
		}
	}
}

func seedLabel(id int64) string {
	if id == 0 {
		return "automatic"
	}
	return strconv.FormatInt(id, 10)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
