package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"croft/pkg/logbuf"
	"croft/pkg/protocol"

	"github.com/spf13/cobra"
)

// logsConfig holds the flags of the logs command.
type logsConfig struct {
	query   protocol.LogQuery
	warn    bool
	follow  bool
	asJSON  bool
	refresh time.Duration
}

// newLogsCmd creates the "croft logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [account-id]",
		Short: "Query the operational log",
		Long: `Shows supervisor and worker log lines, oldest first. Every whitespace
separated --keyword term must occur in the line's message, tag or meta.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var accountID string
			if len(args) == 1 {
				accountID = args[0]
			}
			if cmd.Flags().Changed("warn") {
				cfg.query.IsWarn = &cfg.warn
			}

			var entries []logbuf.Entry
			if err := control(cmd, protocol.OpLogs, accountID, cfg.query, &entries); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if cfg.asJSON {
				return writeJSON(w, entries)
			}
			st := newStyles(w)
			last := printLogEntries(w, st, entries, time.Time{})
			if !cfg.follow {
				if len(entries) == 0 {
					fmt.Fprintln(w, "no log lines found")
				}
				return nil
			}

			ticker := time.NewTicker(cfg.refresh)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
				entries = entries[:0]
				if err := control(cmd, protocol.OpLogs, accountID, cfg.query, &entries); err != nil {
					return err
				}
				last = printLogEntries(w, st, entries, last)
			}
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.query.Limit, "limit", logbuf.DefaultLimit, "maximum number of lines")
	f.StringVar(&cfg.query.Tag, "tag", "", "only lines with this tag")
	f.StringVar(&cfg.query.Module, "module", "", "only lines from this module")
	f.StringVar(&cfg.query.Event, "event", "", "only lines with this event")
	f.StringVar(&cfg.query.Keyword, "keyword", "", "space separated terms that must all match")
	f.BoolVar(&cfg.warn, "warn", false, "only warnings (--warn=false for non-warnings)")
	f.BoolVarP(&cfg.follow, "follow", "f", false, "poll for new lines")
	f.DurationVar(&cfg.refresh, "refresh", time.Second, "poll interval with --follow")
	f.BoolVar(&cfg.asJSON, "json", false, "print raw JSON")

	return cmd
}

// printLogEntries prints the newest-first entries that are newer than after,
// oldest first, and returns the newest time printed.
func printLogEntries(w io.Writer, st styles, entries []logbuf.Entry, after time.Time) time.Time {
	last := after
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.Time.After(after) {
			continue
		}
		formatLogEntry(w, st, e)
		if e.Time.After(last) {
			last = e.Time
		}
	}
	return last
}

func formatLogEntry(w io.Writer, st styles, e logbuf.Entry) {
	who := e.AccountName
	if who == "" {
		who = e.AccountID
	}
	if who == "" {
		who = "supervisor"
	}
	msg := e.Msg
	if e.IsWarn {
		msg = st.Warn.Render(msg)
	}
	fmt.Fprintf(w, "%s %s %s %s\n",
		st.Dim.Render(e.Time.Local().Format("2006-01-02 15:04:05")),
		fmt.Sprintf("[%s]", e.Tag), who, msg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
