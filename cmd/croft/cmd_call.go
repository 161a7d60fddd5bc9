package main

import (
	"encoding/json"
	"fmt"

	"croft/pkg/protocol"

	"github.com/spf13/cobra"
)

// newCallCmd creates the "croft call" subcommand.
func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <account-id> <method> [json-args]",
		Short: "Invoke a worker method and print its result",
		Long: `Forwards one method call to an account's worker and prints the JSON result.
Methods: getLands getFriends getFriendLands doFriendOp getSeeds getTasks
claimTask doFarmOp getAnalytics getIntervals getPlantingStrategy
debugSellFruits reconnect.`,
		Example: `  croft call main getLands
  croft call main getFriendLands '{"gid": 1002}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := protocol.Method(args[1])
			if !method.Valid() {
				return fmt.Errorf("%w: %s", protocol.ErrUnknownMethod, method)
			}
			call := protocol.CallArgs{Method: method}
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("arguments are not valid JSON: %s", args[2])
				}
				call.Args = json.RawMessage(args[2])
			}

			var result json.RawMessage
			if err := control(cmd, protocol.OpCall, args[0], call, &result); err != nil {
				return err
			}
			if len(result) == 0 || string(result) == "null" {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}
