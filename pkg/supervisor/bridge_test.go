package supervisor //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"croft/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingCount(s *Supervisor, w *trackedWorker) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(w.pending)
}

func TestCall_UnknownAccountFailsSynchronously(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, _ := newTestSupervisor(t, testConfig(), sp)

	start := time.Now()
	_, err := s.Call(context.Background(), "ghost", protocol.MethodGetLands, nil)

	var unreachable *protocol.WorkerUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "ghost", unreachable.AccountID)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int32(0), sp.spawned.Load())
}

func TestCall_ResolvesExactlyOnce(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))
	p := sp.proc(t, "a1")

	type outcome struct {
		raw json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		raw, err := s.Call(context.Background(), "a1", protocol.MethodGetLands, nil)
		done <- outcome{raw, err}
	}()

	call := p.expect(t, protocol.MsgAPICall, 2*time.Second)
	require.Equal(t, protocol.MethodGetLands, call.APICall.Method)

	// Two responses for the same id: only the first counts.
	p.reply(t, protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &protocol.APIResponsePayload{
		ID: call.APICall.ID, Result: json.RawMessage(`{"n":1}`),
	}})
	p.reply(t, protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &protocol.APIResponsePayload{
		ID: call.APICall.ID, Error: "late duplicate",
	}})

	got := <-done
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"n":1}`, string(got.raw))

	w := tracked(t, s, "a1")
	assert.Equal(t, 0, pendingCount(s, w))

	// The bridge keeps working after the duplicate.
	go func() { p.answer(t, []int{1, 2}) }()
	var out []int
	require.NoError(t, s.CallInto(context.Background(), "a1", protocol.MethodGetSeeds, nil, &out))
	assert.Equal(t, []int{1, 2}, out)
}

func TestCall_TimeoutThenLateResponseIgnored(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.CallTimeout = 50 * time.Millisecond
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, cfg, sp)
	saveAndStart(t, s, st, testAccount("a1"))
	p := sp.proc(t, "a1")

	_, err := s.Call(context.Background(), "a1", protocol.MethodGetFriends, nil)
	var timeout *protocol.CallTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, protocol.MethodGetFriends, timeout.Method)
	assert.Equal(t, 50*time.Millisecond, timeout.After)

	call := p.expect(t, protocol.MsgAPICall, time.Second)
	w := tracked(t, s, "a1")
	assert.Equal(t, 0, pendingCount(s, w))

	// A response after the timeout is dropped.
	p.reply(t, protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &protocol.APIResponsePayload{
		ID: call.APICall.ID, Result: json.RawMessage(`[]`),
	}})
	assert.Equal(t, 0, pendingCount(s, w))

	// A fresh call gets a fresh id.
	go func() {
		id := p.answer(t, "ok")
		assert.Greater(t, id, call.APICall.ID)
	}()
	raw, err := s.Call(context.Background(), "a1", protocol.MethodGetFriends, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(raw))
}

func TestCall_RemoteError(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))
	p := sp.proc(t, "a1")

	go func() {
		call := p.expect(t, protocol.MsgAPICall, 2*time.Second)
		p.reply(t, protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &protocol.APIResponsePayload{
			ID: call.APICall.ID, Error: "session not logged in",
		}})
	}()

	_, err := s.Call(context.Background(), "a1", protocol.MethodDoFarmOp, protocol.FarmOpArgs{Op: "all"})
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "session not logged in", remote.Message)
	assert.Equal(t, protocol.MethodDoFarmOp, remote.Method)
}

func TestCall_WorkerExitRejectsPending(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Second
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, cfg, sp)
	saveAndStart(t, s, st, testAccount("a1"))
	p := sp.proc(t, "a1")

	done := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), "a1", protocol.MethodGetTasks, nil)
		done <- err
	}()
	p.expect(t, protocol.MsgAPICall, 2*time.Second)
	p.exit()

	select {
	case err := <-done:
		var exited *protocol.WorkerExitedError
		require.ErrorAs(t, err, &exited)
		assert.Equal(t, protocol.MethodGetTasks, exited.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not rejected when the worker exited")
	}
	waitFor(t, func() bool { return !s.IsRunning("a1") }, time.Second)
}

func TestCall_ContextCancelled(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Call(ctx, "a1", protocol.MethodGetLands, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, pendingCount(s, tracked(t, s, "a1")))
}

func TestCall_ConcurrentCallsGetOwnResults(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))
	p := sp.proc(t, "a1")

	const n = 20
	// Echo each call's id back as its result, in reverse arrival order.
	go func() {
		calls := make([]protocol.Message, 0, n)
		for len(calls) < n {
			calls = append(calls, p.expect(t, protocol.MsgAPICall, 2*time.Second))
		}
		for i := len(calls) - 1; i >= 0; i-- {
			id := calls[i].APICall.ID
			p.reply(t, protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &protocol.APIResponsePayload{
				ID: id, Result: json.RawMessage(fmt.Sprint(id)),
			}})
		}
	}()

	var wg sync.WaitGroup
	results := make(chan uint64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var id uint64
			if err := s.CallInto(context.Background(), "a1", protocol.MethodGetLands, nil, &id); err != nil {
				t.Errorf("call: %v", err)
				return
			}
			results <- id
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for id := range results {
		assert.False(t, seen[id], "id %d resolved twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
