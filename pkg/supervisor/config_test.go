package supervisor //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"croft/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RevisionSeededFromClock(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	s, _ := newTestSupervisor(t, testConfig(), newFakeSpawner(true), WithClock(clock.Now))
	assert.Equal(t, uint64(clock.Now().UnixMilli()), s.Revision())
}

func TestUpdateSettings_BroadcastsFullSnapshot(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))
	saveAndStart(t, s, st, testAccount("a2"))
	before := s.Revision()

	res, err := s.SetInterval(context.Background(), "farm", 5)
	require.NoError(t, err)
	assert.Equal(t, before+1, res.Revision)
	assert.Equal(t, 5, res.Settings.Intervals.Farm)

	for _, id := range []string{"a1", "a2"} {
		p := sp.proc(t, id)
		p.expect(t, protocol.MsgConfigSync, time.Second) // handshake snapshot
		m := p.expect(t, protocol.MsgConfigSync, time.Second)
		assert.Equal(t, res.Revision, m.ConfigSync.Revision)
		assert.Equal(t, 5, m.ConfigSync.Intervals.Farm)
		assert.Equal(t, protocol.DefaultIntervals().Friend, m.ConfigSync.Intervals.Friend,
			"snapshot carries the full configuration")
	}

	stored, err := st.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Intervals.Farm)
}

func TestUpdateSettings_InvalidLeavesRevision(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))
	p := sp.proc(t, "a1")
	p.expect(t, protocol.MsgConfigSync, time.Second)
	before := s.Revision()

	ctx := context.Background()
	cases := map[string]func() error{
		"unknown key":    func() error { _, err := s.SetAutomation(ctx, "teleport", true); return err },
		"wrong type":     func() error { _, err := s.SetAutomation(ctx, "farm", "yes"); return err },
		"bad fertilizer": func() error { _, err := s.SetAutomation(ctx, "fertilizer", "magic"); return err },
		"bad strategy":   func() error { _, err := s.SetStrategy(ctx, "random"); return err },
		"zero interval":  func() error { _, err := s.SetInterval(ctx, "friend", 0); return err },
		"bad kind":       func() error { _, err := s.SetInterval(ctx, "steal", 3); return err },
		"negative seed":  func() error { _, err := s.SetSeed(ctx, -1); return err },
		"bad quiet":      func() error { _, err := s.SetQuietHours(ctx, protocol.QuietHours{Start: "25:00", End: "07:00"}); return err },
	}
	for name, fn := range cases {
		require.ErrorIs(t, fn(), protocol.ErrInvalidSetting, name)
	}

	assert.Equal(t, before, s.Revision())
	select {
	case m := <-p.in:
		t.Fatalf("unexpected %s after rejected mutations", m.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateSettings_ConcurrentRevisionsAreMonotonic(t *testing.T) {
	t.Parallel()
	sp := newFakeSpawner(true)
	s, st := newTestSupervisor(t, testConfig(), sp)
	ids := []string{"a1", "a2", "a3"}
	for _, id := range ids {
		saveAndStart(t, s, st, testAccount(id))
	}
	start := s.Revision()

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.SetSeed(context.Background(), int64(i))
			} else {
				_, err = s.SetAutomation(context.Background(), "friend_bad", i%4 == 1)
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final := s.Revision()
	require.Equal(t, start+n, final)

	for _, id := range ids {
		p := sp.proc(t, id)
		var last uint64
		for last != final {
			m := p.expect(t, protocol.MsgConfigSync, time.Second)
			require.Greater(t, m.ConfigSync.Revision, last, fmt.Sprintf("worker %s saw a revision regress", id))
			last = m.ConfigSync.Revision
		}
	}
}

func TestUpdateSettings_WorkerStatusReachesRevision(t *testing.T) {
	t.Parallel()
	sp := newWorkerSpawner()
	s, st := newTestSupervisor(t, testConfig(), sp)
	saveAndStart(t, s, st, testAccount("a1"))

	res, err := s.SetStrategy(context.Background(), protocol.StrategyExp)
	require.NoError(t, err)

	waitFor(t, func() bool {
		snap, err := s.Status(context.Background(), "a1")
		return err == nil && snap.ConfigRevision == res.Revision
	}, 3*time.Second)

	var strategy struct {
		Strategy protocol.PlantingStrategy `json:"strategy"`
	}
	require.NoError(t, s.CallInto(context.Background(), "a1", protocol.MethodGetPlantingStrategy, nil, &strategy))
	assert.Equal(t, protocol.StrategyExp, strategy.Strategy)
}
