package worker_test

import (
	"encoding/json"
	"testing"
	"time"

	"croft/pkg/game"
	"croft/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configMsg(rev uint64, mutate func(*protocol.Settings)) protocol.Message {
	s := protocol.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	return protocol.Message{Type: protocol.MsgConfigSync, ConfigSync: &protocol.ConfigSnapshot{Settings: s, Revision: rev}}
}

func TestWorker_StartReportsConnectedStatus(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	h.start("acc-1")
	h.send(configMsg(5, func(s *protocol.Settings) { s.PreferredSeedID = 20002 }))

	m := h.expect(protocol.MsgStatusSync, func(m protocol.Message) bool {
		return m.StatusSync.Connection.Connected && m.StatusSync.ConfigRevision == 5
	}, 3*time.Second)

	st := m.StatusSync
	assert.Equal(t, "acc-1", st.AccountID)
	assert.Equal(t, "name-acc-1", st.AccountName)
	assert.Equal(t, int64(20002), st.PreferredSeedID)
	assert.Equal(t, int64(1000), st.User.Gold)
	assert.Len(t, st.Operations, len(protocol.OperationKeys))
	assert.False(t, st.StartedAt.IsZero())
}

func TestWorker_ForwardsLogs(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	h.start("acc-log")

	m := h.expect(protocol.MsgLog, func(m protocol.Message) bool {
		return m.Log.Meta.Event == "login"
	}, 3*time.Second)
	assert.Equal(t, "session", m.Log.Meta.Module)
	assert.Equal(t, "ok", m.Log.Meta.Result)
	assert.False(t, m.Log.IsWarn)
	assert.NotEmpty(t, m.Log.Time)
}

func TestWorker_ConfigRevisionNeverRegresses(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	h.start("acc-rev")
	h.send(configMsg(10, func(s *protocol.Settings) { s.Intervals.Farm = 9 }))
	h.send(configMsg(7, func(s *protocol.Settings) { s.Intervals.Farm = 3 }))
	h.send(configMsg(10, func(s *protocol.Settings) { s.Intervals.Farm = 9 }))

	h.expect(protocol.MsgStatusSync, func(m protocol.Message) bool {
		return m.StatusSync.ConfigRevision == 10
	}, 3*time.Second)

	waitFor(t, func() bool {
		_, rev := h.w.Settings()
		return rev == 10
	}, time.Second)
	cfg, _ := h.w.Settings()
	assert.Equal(t, 9, cfg.Intervals.Farm)

	// No status ever reports a regressed revision.
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case m := <-h.msgs:
			if m.Type == protocol.MsgStatusSync {
				assert.Equal(t, uint64(10), m.StatusSync.ConfigRevision)
			}
		case <-deadline:
			return
		}
	}
}

func call(h *harness, id uint64, method protocol.Method, args any) protocol.APIResponsePayload {
	h.t.Helper()
	msg, err := protocol.NewAPICall(id, method, args)
	require.NoError(h.t, err)
	h.send(msg)
	m := h.expect(protocol.MsgAPIResponse, func(m protocol.Message) bool {
		return m.APIResponse.ID == id
	}, 3*time.Second)
	return *m.APIResponse
}

func TestWorker_APICalls(t *testing.T) {
	t.Parallel()

	h := startWorker(t)

	// Served from the local config cache before any session exists.
	resp := call(h, 1, protocol.MethodGetIntervals, nil)
	require.Empty(t, resp.Error)
	var iv protocol.Intervals
	require.NoError(t, json.Unmarshal(resp.Result, &iv))
	assert.Equal(t, protocol.DefaultIntervals(), iv)

	resp = call(h, 2, protocol.MethodGetLands, nil)
	assert.Contains(t, resp.Error, protocol.ErrNotLoggedIn.Error())

	h.start("acc-api")
	h.expect(protocol.MsgStatusSync, func(m protocol.Message) bool { return m.StatusSync.Connection.Connected }, 3*time.Second)

	resp = call(h, 3, protocol.MethodGetLands, nil)
	require.Empty(t, resp.Error)
	var lands []game.Land
	require.NoError(t, json.Unmarshal(resp.Result, &lands))
	assert.Len(t, lands, 12)

	resp = call(h, 4, protocol.MethodDoFarmOp, protocol.FarmOpArgs{Op: "plant"})
	require.Empty(t, resp.Error)
	var op game.OpResult
	require.NoError(t, json.Unmarshal(resp.Result, &op))
	assert.Equal(t, 8, op.Count)

	resp = call(h, 5, protocol.MethodDoFarmOp, protocol.FarmOpArgs{Op: "dig"})
	assert.Contains(t, resp.Error, "unknown farm op")

	resp = call(h, 6, protocol.MethodDoFriendOp, nil)
	assert.Contains(t, resp.Error, "missing arguments")

	resp = call(h, 7, protocol.Method("setTheme"), nil)
	assert.Contains(t, resp.Error, protocol.ErrUnknownMethod.Error())

	resp = call(h, 8, protocol.MethodGetAnalytics, protocol.AnalyticsArgs{SortBy: "level"})
	require.Empty(t, resp.Error)
	var ranks []game.PlantRank
	require.NoError(t, json.Unmarshal(resp.Result, &ranks))
	require.NotEmpty(t, ranks)

	resp = call(h, 9, protocol.MethodGetPlantingStrategy, nil)
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"strategy":"preferred","preferred_seed_id":0}`, string(resp.Result))
}

func TestWorker_StopExitsCleanly(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	sess := h.start("acc-stop")
	h.expect(protocol.MsgStatusSync, func(m protocol.Message) bool { return m.StatusSync.Connection.Connected }, 3*time.Second)

	h.send(protocol.Message{Type: protocol.MsgStop})
	require.NoError(t, h.waitExit(2*time.Second))
	assert.False(t, sess.Connected(), "session closed on stop")
}

func TestWorker_KickNotifiesThenStops(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	sess := h.start("acc-kick")
	h.expect(protocol.MsgStatusSync, func(m protocol.Message) bool { return m.StatusSync.Connection.Connected }, 3*time.Second)

	sess.Kick("logged in elsewhere")
	m := h.expect(protocol.MsgAccountKicked, nil, 2*time.Second)
	assert.Equal(t, "logged in elsewhere", m.Kicked.Reason)

	require.NoError(t, h.waitExit(2*time.Second), "worker stops itself after a kick")
}

func TestWorker_ExitsWhenSupervisorGoesAway(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	h.start("acc-eof")
	_ = h.toWorker.Close()

	require.NoError(t, h.waitExit(2*time.Second))
}

func TestWorker_MissingPayloadReportsError(t *testing.T) {
	t.Parallel()

	h := startWorker(t)
	h.send(protocol.Message{Type: protocol.MsgConfigSync})
	m := h.expect(protocol.MsgError, nil, 2*time.Second)
	assert.Contains(t, m.Error.Message, "CONFIG_SYNC")
}
