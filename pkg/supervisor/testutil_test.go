package supervisor //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"croft/pkg/game"
	"croft/pkg/game/sim"
	"croft/pkg/protocol"
	"croft/pkg/store"
	"croft/pkg/worker"

	"github.com/stretchr/testify/require"
)

// waitFor polls condition every tick until it returns true or timeout expires.
// This replaces time.Sleep in tests to provide proper synchronization.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond) // short poll inside helper is OK
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

func testConfig() Config {
	return Config{
		CallTimeout:     2 * time.Second,
		StopGrace:       50 * time.Millisecond,
		ShutdownTimeout: time.Second,
	}
}

// newTestSupervisor builds a Supervisor over a temp-dir SQLite store. Its
// workers are stopped on cleanup.
func newTestSupervisor(t *testing.T, cfg Config, sp Spawner, opts ...Option) (*Supervisor, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "croft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts = append([]Option{WithLogHandler(slog.DiscardHandler)}, opts...)
	s, err := New(context.Background(), cfg, st, sp, opts...)
	require.NoError(t, err)
	t.Cleanup(s.shutdown)
	return s, st
}

func testAccount(id string) protocol.Account {
	return protocol.Account{ID: id, Name: "name-" + id, Code: "code-" + id, Platform: protocol.PlatformQQ}
}

// saveAndStart persists a and starts its worker.
func saveAndStart(t *testing.T, s *Supervisor, st *store.Store, a protocol.Account) {
	t.Helper()
	require.NoError(t, st.SaveAccount(context.Background(), a))
	require.NoError(t, s.StartWorker(a))
}

// tracked returns the registered worker for id.
func tracked(t *testing.T, s *Supervisor, id string) *trackedWorker {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	require.True(t, ok, "worker %s not registered", id)
	return w
}

// --- scripted worker process ---

// fakeProcess is a worker the test drives by hand: messages the supervisor
// writes arrive on in, and reply writes to the supervisor.
type fakeProcess struct {
	id      string
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	in      chan protocol.Message

	stopExits bool
	exited    chan struct{}
	exitOnce  sync.Once
	killed    atomic.Bool
}

func newFakeProcess(id string, stopExits bool) *fakeProcess {
	p := &fakeProcess{
		id:        id,
		in:        make(chan protocol.Message, 1024),
		stopExits: stopExits,
		exited:    make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()

	go func() {
		sc := bufio.NewScanner(p.stdinR)
		for sc.Scan() {
			var m protocol.Message
			if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
				continue
			}
			p.in <- m
			if m.Type == protocol.MsgStop && p.stopExits {
				p.exit()
			}
		}
	}()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader      { return p.stdoutR }

func (p *fakeProcess) Wait() error {
	<-p.exited
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

// exit simulates the process ending: its stdout reaches EOF and further
// writes to its stdin fail.
func (p *fakeProcess) exit() {
	p.exitOnce.Do(func() {
		close(p.exited)
		_ = p.stdoutW.Close()
		_ = p.stdinR.Close()
	})
}

func (p *fakeProcess) reply(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	_, err = p.stdoutW.Write(data)
	require.NoError(t, err)
}

// expect returns the next message of type typ, skipping others.
func (p *fakeProcess) expect(t *testing.T, typ protocol.MessageType, timeout time.Duration) protocol.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-p.in:
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("worker %s: no %s message within %v", p.id, typ, timeout)
			return protocol.Message{}
		}
	}
}

// next returns the next message of any type.
func (p *fakeProcess) next(t *testing.T, timeout time.Duration) protocol.Message {
	t.Helper()
	select {
	case m := <-p.in:
		return m
	case <-time.After(timeout):
		t.Fatalf("worker %s: no message within %v", p.id, timeout)
		return protocol.Message{}
	}
}

// answer replies to the next API call with result.
func (p *fakeProcess) answer(t *testing.T, result any) uint64 {
	t.Helper()
	call := p.expect(t, protocol.MsgAPICall, 2*time.Second)
	data, err := json.Marshal(result)
	require.NoError(t, err)
	p.reply(t, protocol.Message{Type: protocol.MsgAPIResponse, APIResponse: &protocol.APIResponsePayload{
		ID: call.APICall.ID, Result: data,
	}})
	return call.APICall.ID
}

type fakeSpawner struct {
	stopExits bool
	err       error

	mu      sync.Mutex
	procs   map[string][]*fakeProcess
	spawned atomic.Int32
}

func newFakeSpawner(stopExits bool) *fakeSpawner {
	return &fakeSpawner{stopExits: stopExits, procs: make(map[string][]*fakeProcess)}
}

func (sp *fakeSpawner) Spawn(id string) (Process, error) {
	if sp.err != nil {
		return nil, sp.err
	}
	p := newFakeProcess(id, sp.stopExits)
	sp.mu.Lock()
	sp.procs[id] = append(sp.procs[id], p)
	sp.mu.Unlock()
	sp.spawned.Add(1)
	return p, nil
}

// proc returns the most recent process spawned for id.
func (sp *fakeSpawner) proc(t *testing.T, id string) *fakeProcess {
	t.Helper()
	sp.mu.Lock()
	defer sp.mu.Unlock()
	ps := sp.procs[id]
	require.NotEmpty(t, ps, "no process spawned for %s", id)
	return ps[len(ps)-1]
}

// --- in-process real workers ---

// workerSpawner runs a real worker.Worker with a simulated game session over
// in-memory pipes.
type workerSpawner struct {
	mu       sync.Mutex
	sessions map[string]*sim.Session
}

func newWorkerSpawner() *workerSpawner {
	return &workerSpawner{sessions: make(map[string]*sim.Session)}
}

func (sp *workerSpawner) Spawn(id string) (Process, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	factory := func(start protocol.StartPayload, stats *game.Stats, logger *slog.Logger) (game.Session, error) {
		sess := sim.NewSession(start, stats, logger, sim.Options{})
		sp.mu.Lock()
		sp.sessions[start.AccountID] = sess
		sp.mu.Unlock()
		return sess, nil
	}
	cfg := worker.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.StatusCeiling = 200 * time.Millisecond
	cfg.KickStopDelay = 20 * time.Millisecond

	w := worker.New(inR, outW, factory, worker.WithStderr(io.Discard), worker.WithConfig(cfg))
	p := &workerProcess{stdin: inW, stdout: outR, done: make(chan struct{})}
	go func() {
		p.err = w.Run(context.Background())
		_ = outW.Close()
		_ = inR.Close()
		close(p.done)
	}()
	return p, nil
}

func (sp *workerSpawner) session(id string) *sim.Session {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.sessions[id]
}

type workerProcess struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	done   chan struct{}
	err    error
}

func (p *workerProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *workerProcess) Stdout() io.Reader      { return p.stdout }

func (p *workerProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *workerProcess) Kill() error {
	return p.stdin.Close()
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
