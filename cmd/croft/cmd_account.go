package main

import (
	"fmt"
	"io"
	"os"

	"croft/pkg/protocol"
	"croft/pkg/supervisor"

	"github.com/spf13/cobra"
)

// newAccountCmd creates the "croft account" subcommand group.
func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage game accounts",
	}
	cmd.AddCommand(
		newAccountListCmd(),
		newAccountAddCmd(),
		newAccountImportCmd(),
		newAccountRemoveCmd(),
		newAccountControlCmd("start", "Start the worker of a stored account", protocol.OpAccountStart),
		newAccountControlCmd("stop", "Stop an account's worker without deleting the account", protocol.OpAccountStop),
	)
	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var accounts []protocol.Account
			if err := control(cmd, protocol.OpAccounts, "", nil, &accounts); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printAccounts(w, newStyles(w), accounts)
			return nil
		},
	}
}

func printAccounts(w io.Writer, st styles, accounts []protocol.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "no accounts")
		return
	}
	fmt.Fprintln(w, st.Header.Render(fmt.Sprintf("%-36s %-16s %-8s %s", "ID", "NAME", "PLATFORM", "WORKER")))
	for _, a := range accounts {
		worker := st.Offline.Render("stopped")
		if a.Running {
			worker = st.Online.Render("running")
		}
		fmt.Fprintf(w, "%-36s %-16s %-8s %s\n", a.ID, truncate(a.Name, 16), a.Platform, worker)
	}
}

func newAccountAddCmd() *cobra.Command {
	var a protocol.Account
	var platform string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account and start its worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.Platform = protocol.Platform(platform)
			var added protocol.Account
			if err := control(cmd, protocol.OpAccountAdd, "", a, &added); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added account %s (%s)\n", added.ID, added.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&a.ID, "id", "", "account id (default: generated)")
	cmd.Flags().StringVar(&a.Name, "name", "", "display name (default: the id)")
	cmd.Flags().StringVar(&a.Code, "code", "", "login code (required)")
	cmd.Flags().StringVar(&platform, "platform", string(protocol.PlatformQQ), "login platform: qq or wx")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newAccountImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add every account listed in a YAML file",
		Long: `Reads one account document, or a document with an "accounts" list,
and adds each account. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			accounts, err := supervisor.ParseAccounts(data)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			var failed int
			for _, a := range accounts {
				var added protocol.Account
				if err := control(cmd, protocol.OpAccountAdd, "", a, &added); err != nil {
					fmt.Fprintf(w, "skip %s: %v\n", accountLabel(a), err)
					failed++
					continue
				}
				fmt.Fprintf(w, "added account %s (%s)\n", added.ID, added.Name)
			}
			if failed == len(accounts) {
				return fmt.Errorf("no account imported from %s", args[0])
			}
			return nil
		},
	}
}

func accountLabel(a protocol.Account) string {
	switch {
	case a.ID != "":
		return a.ID
	case a.Name != "":
		return a.Name
	default:
		return "unnamed account"
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied import file
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func newAccountRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Stop an account's worker and delete the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := control(cmd, protocol.OpAccountRemove, args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed account %s\n", args[0])
			return nil
		},
	}
}

func newAccountControlCmd(use, short string, op protocol.ControlOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <account-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := control(cmd, op, args[0], nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested for %s\n", use, args[0])
			return nil
		},
	}
}
