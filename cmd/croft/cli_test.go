package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"croft/pkg/logbuf"
	"croft/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSupervisor answers control requests on a Unix socket with canned
// results and records every request it sees.
type mockSupervisor struct {
	sock  string
	reply func(protocol.ControlRequest) (any, error)

	mu   sync.Mutex
	reqs []protocol.ControlRequest
}

func startMockSupervisor(t *testing.T, reply func(protocol.ControlRequest) (any, error)) *mockSupervisor {
	t.Helper()
	dir, err := os.MkdirTemp("", "croft-cli")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	m := &mockSupervisor{sock: filepath.Join(dir, "c.sock"), reply: reply}
	ln, err := net.Listen("unix", m.sock) //nolint:noctx // UDS bind is instant
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serve(conn)
		}
	}()
	return m
}

func (m *mockSupervisor) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	var req protocol.ControlRequest
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		return
	}
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()

	resp := protocol.ControlResponse{OK: true}
	result, err := m.reply(req)
	if err != nil {
		resp = protocol.ControlResponse{Error: err.Error()}
	} else if result != nil {
		resp.Result, _ = json.Marshal(result)
	}
	data, _ := json.Marshal(resp)
	_, _ = conn.Write(append(data, '\n'))
}

func (m *mockSupervisor) requests() []protocol.ControlRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.ControlRequest(nil), m.reqs...)
}

func runCLI(t *testing.T, sock string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--socket", sock}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeArgs(t *testing.T, req protocol.ControlRequest, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(req.Args, v))
}

func TestCLI_StatusTable(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return []protocol.StatusSnapshot{
			{AccountID: "a1", AccountName: "Farmer", Connection: protocol.Connection{Connected: true},
				User: protocol.UserStatus{Level: 12, Gold: 3400}, ConfigRevision: 9},
			{AccountID: "a2", AccountName: "Idle"},
		}, nil
	})

	out, err := runCLI(t, m.sock, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNT")
	assert.Regexp(t, `a1\s+Farmer\s+online\s+12\s+3400`, out)
	assert.Regexp(t, `a2\s+Idle\s+offline`, out)

	reqs := m.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, protocol.OpStatus, reqs[0].Op)
	assert.Empty(t, reqs[0].AccountID)
}

func TestCLI_StatusDetail(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		ops := protocol.NewOperations()
		ops["harvest"] = 7
		return protocol.StatusSnapshot{
			AccountID: "a1", AccountName: "Farmer",
			Operations: ops,
			Limits:     map[string]protocol.OpLimit{"steal": {Used: 3, Limit: 50}},
		}, nil
	})

	out, err := runCLI(t, m.sock, "status", "a1")
	require.NoError(t, err)
	assert.Contains(t, out, "Farmer (a1)")
	assert.Regexp(t, `harvest\s+7`, out)
	assert.Regexp(t, `helpBug\s+0`, out)
	assert.Contains(t, out, "3/50")
	assert.Contains(t, out, "automatic")
	assert.Equal(t, "a1", m.requests()[0].AccountID)
}

func TestCLI_LogsForwardsFilters(t *testing.T) {
	t.Parallel()
	now := time.Now()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return []logbuf.Entry{
			logbuf.NewEntry(now, "farm", "second", true, protocol.LogMeta{Module: "farm"}, "a1", "Farmer"),
			logbuf.NewEntry(now.Add(-time.Second), "farm", "first", false, protocol.LogMeta{Module: "farm"}, "a1", "Farmer"),
		}, nil
	})

	out, err := runCLI(t, m.sock, "logs", "a1", "--module", "farm", "--keyword", "harvest ok", "--warn", "--limit", "5")
	require.NoError(t, err)
	assert.Less(t, bytes.Index([]byte(out), []byte("first")), bytes.Index([]byte(out), []byte("second")), "oldest first")
	assert.Contains(t, out, "[farm] Farmer")

	req := m.requests()[0]
	assert.Equal(t, protocol.OpLogs, req.Op)
	assert.Equal(t, "a1", req.AccountID)
	var q protocol.LogQuery
	decodeArgs(t, req, &q)
	require.NotNil(t, q.IsWarn)
	assert.True(t, *q.IsWarn)
	assert.Equal(t, protocol.LogQuery{Limit: 5, Module: "farm", Keyword: "harvest ok", IsWarn: q.IsWarn}, q)
}

func TestCLI_LogsWithoutWarnFlagLeavesFilterUnset(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) { return []logbuf.Entry{}, nil })

	out, err := runCLI(t, m.sock, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "no log lines")

	var q protocol.LogQuery
	decodeArgs(t, m.requests()[0], &q)
	assert.Nil(t, q.IsWarn)
	assert.Equal(t, logbuf.DefaultLimit, q.Limit)
}

func TestCLI_Audit(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return []protocol.AuditEntry{{
			Time: time.Now(), Action: protocol.AuditKickoutDelete, Msg: "account Farmer kicked",
			AccountID: "a1", Extra: map[string]string{"reason": "elsewhere"},
		}}, nil
	})

	out, err := runCLI(t, m.sock, "audit", "a1", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "kickout_delete")
	assert.Contains(t, out, "(reason=elsewhere)")

	var q protocol.LogQuery
	decodeArgs(t, m.requests()[0], &q)
	assert.Equal(t, 3, q.Limit)
}

func TestCLI_AccountAddAndList(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(req protocol.ControlRequest) (any, error) {
		switch req.Op {
		case protocol.OpAccountAdd:
			var a protocol.Account
			if err := json.Unmarshal(req.Args, &a); err != nil {
				return nil, err
			}
			a.Code, a.Running = "", true
			return a, nil
		case protocol.OpAccounts:
			return []protocol.Account{{ID: "a1", Name: "Farmer", Platform: protocol.PlatformWechat, Running: true}}, nil
		default:
			return nil, errors.New("unexpected op")
		}
	})

	out, err := runCLI(t, m.sock, "account", "add", "--id", "a1", "--name", "Farmer", "--code", "xyz", "--platform", "wx")
	require.NoError(t, err)
	assert.Contains(t, out, "added account a1 (Farmer)")

	var sent protocol.Account
	decodeArgs(t, m.requests()[0], &sent)
	assert.Equal(t, protocol.Account{ID: "a1", Name: "Farmer", Code: "xyz", Platform: protocol.PlatformWechat}, sent)

	out, err = runCLI(t, m.sock, "account", "list")
	require.NoError(t, err)
	assert.Regexp(t, `a1\s+Farmer\s+wx\s+running`, out)
}

func TestCLI_AccountAddRequiresCode(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) { return nil, nil })

	_, err := runCLI(t, m.sock, "account", "add", "--name", "x")
	require.ErrorContains(t, err, "code")
	assert.Empty(t, m.requests())
}

func TestCLI_AccountImport(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(req protocol.ControlRequest) (any, error) {
		var a protocol.Account
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		if a.ID == "dup" {
			return nil, errors.New("account exists")
		}
		return a, nil
	})
	file := filepath.Join(t.TempDir(), "accounts.yaml")
	doc := "accounts:\n  - id: a1\n    name: One\n    code: c1\n  - id: dup\n    code: c2\n"
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o600))

	out, err := runCLI(t, m.sock, "account", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "added account a1 (One)")
	assert.Contains(t, out, "skip dup")
	assert.Len(t, m.requests(), 2)
}

func TestCLI_AccountRemoveAndStop(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) { return nil, nil })

	_, err := runCLI(t, m.sock, "account", "stop", "a1")
	require.NoError(t, err)
	_, err = runCLI(t, m.sock, "account", "remove", "a1")
	require.NoError(t, err)

	reqs := m.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, protocol.OpAccountStop, reqs[0].Op)
	assert.Equal(t, protocol.OpAccountRemove, reqs[1].Op)
	assert.Equal(t, "a1", reqs[1].AccountID)
}

func TestCLI_SettingsSet(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return protocol.SettingsResult{Settings: protocol.DefaultSettings(), Revision: 42}, nil
	})

	out, err := runCLI(t, m.sock, "settings", "set", "automation", "sell", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "revision 42")

	_, err = runCLI(t, m.sock, "settings", "set", "automation", "fertilizer", "organic")
	require.NoError(t, err)
	_, err = runCLI(t, m.sock, "settings", "set", "interval", "friend", "30")
	require.NoError(t, err)
	_, err = runCLI(t, m.sock, "settings", "set", "quiet-hours", "23:30", "06:00")
	require.NoError(t, err)

	reqs := m.requests()
	require.Len(t, reqs, 4)

	var auto protocol.SetAutomationArgs
	decodeArgs(t, reqs[0], &auto)
	assert.Equal(t, protocol.SetAutomationArgs{Key: "sell", Value: false}, auto)
	decodeArgs(t, reqs[1], &auto)
	assert.Equal(t, protocol.SetAutomationArgs{Key: "fertilizer", Value: "organic"}, auto)

	var iv protocol.SetIntervalArgs
	decodeArgs(t, reqs[2], &iv)
	assert.Equal(t, protocol.SetIntervalArgs{Kind: "friend", Seconds: 30}, iv)

	var q protocol.QuietHours
	decodeArgs(t, reqs[3], &q)
	assert.Equal(t, protocol.QuietHours{Enabled: true, Start: "23:30", End: "06:00"}, q)

	_, err = runCLI(t, m.sock, "settings", "set", "interval", "friend", "soon")
	require.ErrorContains(t, err, "integer")
	assert.Len(t, m.requests(), 4)
}

func TestCLI_QuietHoursDisableKeepsWindow(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		s := protocol.DefaultSettings()
		s.FriendQuietHours = protocol.QuietHours{Enabled: true, Start: "22:00", End: "05:00"}
		return protocol.SettingsResult{Settings: s, Revision: 3}, nil
	})

	_, err := runCLI(t, m.sock, "settings", "set", "quiet-hours", "--disable")
	require.NoError(t, err)

	reqs := m.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, protocol.OpSettings, reqs[0].Op)
	var q protocol.QuietHours
	decodeArgs(t, reqs[1], &q)
	assert.Equal(t, protocol.QuietHours{Start: "22:00", End: "05:00"}, q)
}

func TestCLI_SettingsShowTOML(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return protocol.SettingsResult{Settings: protocol.DefaultSettings(), Revision: 7}, nil
	})

	out, err := runCLI(t, m.sock, "settings", "show", "--toml")
	require.NoError(t, err)
	assert.Contains(t, out, "revision = 7")
	assert.Contains(t, out, "planting_strategy = 'preferred'")
	assert.Contains(t, out, "[automation]")
	assert.Contains(t, out, "[friend_quiet_hours]")

	out, err = runCLI(t, m.sock, "settings", "show")
	require.NoError(t, err)
	assert.Regexp(t, `sell\s+on`, out)
	assert.Contains(t, out, "farm 2s, friend 10s")
}

func TestCLI_Call(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return []map[string]any{{"id": 1, "crop": "wheat"}}, nil
	})

	out, err := runCLI(t, m.sock, "call", "a1", "getFriendLands", `{"gid": 1002}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"crop": "wheat"`)

	req := m.requests()[0]
	assert.Equal(t, "a1", req.AccountID)
	var args protocol.CallArgs
	decodeArgs(t, req, &args)
	assert.Equal(t, protocol.MethodGetFriendLands, args.Method)
	assert.JSONEq(t, `{"gid": 1002}`, string(args.Args))

	_, err = runCLI(t, m.sock, "call", "a1", "fly")
	require.ErrorIs(t, err, protocol.ErrUnknownMethod)
	_, err = runCLI(t, m.sock, "call", "a1", "getLands", "{oops")
	require.ErrorContains(t, err, "not valid JSON")
	assert.Len(t, m.requests(), 1)
}

func TestCLI_RemoteErrorSurfaces(t *testing.T) {
	t.Parallel()
	m := startMockSupervisor(t, func(protocol.ControlRequest) (any, error) {
		return nil, errors.New("worker a1 not running")
	})

	_, err := runCLI(t, m.sock, "call", "a1", "getLands")
	require.ErrorContains(t, err, "not running")
}

func TestCLI_SupervisorNotRunning(t *testing.T) {
	t.Parallel()
	sock := filepath.Join(t.TempDir(), "absent.sock")

	_, err := runCLI(t, sock, "status")
	require.ErrorContains(t, err, "supervisor is not running")
}
