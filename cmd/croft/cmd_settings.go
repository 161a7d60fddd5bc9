package main

import (
	"fmt"
	"io"
	"strconv"

	"croft/pkg/protocol"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// newSettingsCmd creates the "croft settings" subcommand group.
func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the automation settings shared by all workers",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	var asTOML, asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings and revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res protocol.SettingsResult
			if err := control(cmd, protocol.OpSettings, "", nil, &res); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch {
			case asJSON:
				return writeJSON(w, res)
			case asTOML:
				return writeTOML(w, res)
			default:
				printSettings(w, newStyles(w), res)
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&asTOML, "toml", false, "print as TOML")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	cmd.MarkFlagsMutuallyExclusive("toml", "json")
	return cmd
}

// writeTOML encodes the settings as the configuration snapshot workers receive.
func writeTOML(w io.Writer, res protocol.SettingsResult) error {
	snap := protocol.ConfigSnapshot{Settings: res.Settings, Revision: res.Revision}
	if err := toml.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return nil
}

func printSettings(w io.Writer, st styles, res protocol.SettingsResult) {
	s := res.Settings
	onOff := func(b bool) string {
		if b {
			return st.Online.Render("on")
		}
		return st.Offline.Render("off")
	}

	fmt.Fprintf(w, "%s %d\n", st.Header.Render("revision"), res.Revision)
	fmt.Fprintln(w, st.Header.Render("automation"))
	a := s.Automation
	for _, row := range []struct {
		key string
		on  bool
	}{
		{"farm", a.Farm}, {"farm_push", a.FarmPush}, {"land_upgrade", a.LandUpgrade},
		{"friend", a.Friend}, {"friend_steal", a.FriendSteal}, {"friend_help", a.FriendHelp},
		{"friend_bad", a.FriendBad}, {"task", a.Task}, {"sell", a.Sell},
	} {
		fmt.Fprintf(w, "  %-13s %s\n", row.key, onOff(row.on))
	}
	fmt.Fprintf(w, "  %-13s %s\n", "fertilizer", a.Fertilizer)

	fmt.Fprintf(w, "%s %s\n", st.Header.Render("strategy"), s.PlantingStrategy)
	fmt.Fprintf(w, "%s %s\n", st.Header.Render("seed"), seedLabel(s.PreferredSeedID))
	fmt.Fprintf(w, "%s farm %ds, friend %ds\n", st.Header.Render("intervals"), s.Intervals.Farm, s.Intervals.Friend)

	q := s.FriendQuietHours
	fmt.Fprintf(w, "%s %s-%s %s\n", st.Header.Render("quiet hours"), q.Start, q.End, onOff(q.Enabled))
}

func newSettingsSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one setting and push it to every worker",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "automation <key> <value>",
			Short: "Toggle an automation flag (on/off) or set the fertilizer mode",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setAndReport(cmd, protocol.OpSetAutomation,
					protocol.SetAutomationArgs{Key: args[0], Value: automationValue(args[0], args[1])})
			},
		},
		&cobra.Command{
			Use:   "strategy <preferred|level|exp|profit>",
			Short: "Choose how seeds are picked",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return setAndReport(cmd, protocol.OpSetStrategy,
					protocol.SetStrategyArgs{Strategy: protocol.PlantingStrategy(args[0])})
			},
		},
		&cobra.Command{
			Use:   "interval <farm|friend> <seconds>",
			Short: "Change a periodic task cadence",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				secs, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("seconds must be an integer: %w", err)
				}
				return setAndReport(cmd, protocol.OpSetInterval,
					protocol.SetIntervalArgs{Kind: args[0], Seconds: secs})
			},
		},
		&cobra.Command{
			Use:   "seed <seed-id>",
			Short: "Set the preferred seed (0 for automatic)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("seed id must be an integer: %w", err)
				}
				return setAndReport(cmd, protocol.OpSetSeed, protocol.SetSeedArgs{SeedID: id})
			},
		},
		newQuietHoursCmd(),
	)
	return cmd
}

func newQuietHoursCmd() *cobra.Command {
	var disable bool

	cmd := &cobra.Command{
		Use:   "quiet-hours [start end]",
		Short: "Pause friend visits during a daily HH:MM window",
		Args: func(cmd *cobra.Command, args []string) error {
			if disable {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			q := protocol.QuietHours{Enabled: !disable}
			if disable {
				var cur protocol.SettingsResult
				if err := control(cmd, protocol.OpSettings, "", nil, &cur); err != nil {
					return err
				}
				q.Start, q.End = cur.Settings.FriendQuietHours.Start, cur.Settings.FriendQuietHours.End
			} else {
				q.Start, q.End = args[0], args[1]
			}
			return setAndReport(cmd, protocol.OpSetQuietHours, q)
		},
	}

	cmd.Flags().BoolVar(&disable, "disable", false, "turn quiet hours off, keeping the window")
	return cmd
}

// automationValue maps on/off words to booleans for flag keys. The
// fertilizer key takes its mode name verbatim.
func automationValue(key, raw string) any {
	if key == "fertilizer" {
		return raw
	}
	switch raw {
	case "on", "yes":
		return true
	case "off", "no":
		return false
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func setAndReport(cmd *cobra.Command, op protocol.ControlOp, args any) error {
	var res protocol.SettingsResult
	if err := control(cmd, op, "", args, &res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "settings updated, revision %d\n", res.Revision)
	return nil
}
