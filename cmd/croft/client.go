package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"time"

	"croft/pkg/protocol"
	"croft/pkg/supervisor"

	"github.com/spf13/cobra"
)

// requestTimeout bounds one control round trip. It exceeds the supervisor's
// own API call timeout so a forwarded call reports its timeout first.
const requestTimeout = 15 * time.Second

// socketFlag is the persistent root flag overriding the control socket path.
const socketFlag = "socket"

// controlSocket returns the --socket flag value, or the resolved default.
func controlSocket(cmd *cobra.Command) (string, error) {
	if f := cmd.Flags().Lookup(socketFlag); f != nil && f.Value.String() != "" {
		return f.Value.String(), nil
	}
	paths, err := ResolvePaths()
	if err != nil {
		return "", fmt.Errorf("resolve paths: %w", err)
	}
	return paths.SocketPath, nil
}

// control sends one request to the supervisor and decodes its result into
// out when out is non-nil.
func control(cmd *cobra.Command, op protocol.ControlOp, accountID string, args, out any) error {
	sock, err := controlSocket(cmd)
	if err != nil {
		return err
	}

	req := protocol.ControlRequest{Op: op, AccountID: accountID}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("marshal %s arguments: %w", op, err)
		}
		req.Args = data
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	raw, err := supervisor.Request(ctx, sock, req)
	if err != nil {
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("supervisor is not running (no socket at %s)", sock)
		}
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", op, err)
	}
	return nil
}
