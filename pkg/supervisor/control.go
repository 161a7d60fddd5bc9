package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"croft/pkg/protocol"
)

// listen binds the control socket, replacing a stale socket file left by a
// previous run.
func (s *Supervisor) listen() (net.Listener, error) {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", s.cfg.SocketPath, err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath) //nolint:noctx // UDS bind is instant
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket %s: %w", s.cfg.SocketPath, err)
	}
	return ln, nil
}

// serveControl accepts control connections until ctx is cancelled.
func (s *Supervisor) serveControl(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer func() { _ = os.Remove(s.cfg.SocketPath) }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept control connection", "module", "control", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn answers the single request carried by conn.
func (s *Supervisor) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(s.cfg.CallTimeout + 5*time.Second))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	if !scanner.Scan() {
		return
	}

	var resp protocol.ControlResponse
	var req protocol.ControlRequest
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		resp.Error = fmt.Sprintf("decode request: %v", err)
	} else {
		resp = s.Handle(ctx, req)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = conn.Write(append(data, '\n'))
}

// Handle executes one control request.
func (s *Supervisor) Handle(ctx context.Context, req protocol.ControlRequest) protocol.ControlResponse {
	result, err := s.apply(ctx, req)
	if err != nil {
		return protocol.ControlResponse{Error: err.Error()}
	}
	resp := protocol.ControlResponse{OK: true}
	switch v := result.(type) {
	case nil:
	case json.RawMessage:
		resp.Result = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return protocol.ControlResponse{Error: fmt.Sprintf("encode result: %v", err)}
		}
		resp.Result = data
	}
	return resp
}

//nolint:funlen // flat dispatch over control ops
func (s *Supervisor) apply(ctx context.Context, req protocol.ControlRequest) (any, error) {
	switch req.Op {
	case protocol.OpStatus:
		if req.AccountID != "" {
			return s.Status(ctx, req.AccountID)
		}
		return s.Statuses(ctx)

	case protocol.OpLogs:
		var q protocol.LogQuery
		if err := decodeOptional(req.Args, &q); err != nil {
			return nil, err
		}
		return s.Logs(req.AccountID, q), nil

	case protocol.OpAudit:
		var q protocol.LogQuery
		if err := decodeOptional(req.Args, &q); err != nil {
			return nil, err
		}
		return s.Audit(ctx, req.AccountID, q.Limit), nil

	case protocol.OpAccounts:
		return s.Accounts(ctx)

	case protocol.OpAccountAdd:
		var a protocol.Account
		if err := decodeRequired(req.Args, &a); err != nil {
			return nil, err
		}
		return s.AddAccount(ctx, a)

	case protocol.OpAccountRemove:
		return nil, s.RemoveAccount(ctx, req.AccountID)

	case protocol.OpAccountStart:
		return nil, s.StartAccount(ctx, req.AccountID)

	case protocol.OpAccountStop:
		return nil, s.StopWorker(req.AccountID)

	case protocol.OpSettings:
		return s.Settings(), nil

	case protocol.OpSetAutomation:
		var args protocol.SetAutomationArgs
		if err := decodeRequired(req.Args, &args); err != nil {
			return nil, err
		}
		return s.SetAutomation(ctx, args.Key, args.Value)

	case protocol.OpSetStrategy:
		var args protocol.SetStrategyArgs
		if err := decodeRequired(req.Args, &args); err != nil {
			return nil, err
		}
		return s.SetStrategy(ctx, args.Strategy)

	case protocol.OpSetInterval:
		var args protocol.SetIntervalArgs
		if err := decodeRequired(req.Args, &args); err != nil {
			return nil, err
		}
		return s.SetInterval(ctx, args.Kind, args.Seconds)

	case protocol.OpSetSeed:
		var args protocol.SetSeedArgs
		if err := decodeRequired(req.Args, &args); err != nil {
			return nil, err
		}
		return s.SetSeed(ctx, args.SeedID)

	case protocol.OpSetQuietHours:
		var q protocol.QuietHours
		if err := decodeRequired(req.Args, &q); err != nil {
			return nil, err
		}
		return s.SetQuietHours(ctx, q)

	case protocol.OpCall:
		var args protocol.CallArgs
		if err := decodeRequired(req.Args, &args); err != nil {
			return nil, err
		}
		if !args.Method.Valid() {
			return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownMethod, args.Method)
		}
		var callArgs any
		if len(args.Args) > 0 {
			callArgs = args.Args
		}
		return s.Call(ctx, req.AccountID, args.Method, callArgs)

	default:
		return nil, fmt.Errorf("unknown control op %q", req.Op)
	}
}

func decodeOptional(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return decodeRequired(raw, v)
}

func decodeRequired(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing arguments")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// Request sends req to the supervisor listening on sockPath and returns its
// response. A response with OK false is returned as an error.
func Request(ctx context.Context, sockPath string, req protocol.ControlRequest) (json.RawMessage, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("connect to supervisor: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, errors.New("no response received")
	}

	var resp protocol.ControlResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s: %s", req.Op, resp.Error)
	}
	return resp.Result, nil
}
