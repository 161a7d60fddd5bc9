// Package supervisor owns the per-account worker processes. It keeps the
// worker registry, bridges correlated API calls to workers, broadcasts
// configuration revisions, deletes accounts that stay offline or get kicked,
// and serves the control socket used by the CLI.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"croft/pkg/logbuf"
	"croft/pkg/logging"
	"croft/pkg/protocol"
	"croft/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Config holds Supervisor configuration.
type Config struct {
	SocketPath       string        // Control socket path; empty disables the control server.
	InboxDir         string        // Account inbox; empty disables the watcher.
	CallTimeout      time.Duration // API call timeout (default 10s).
	StopGrace        time.Duration // Forced termination after STOP (default 1s).
	ShutdownTimeout  time.Duration // Wait for workers on shutdown (default 5s).
	OfflineThreshold time.Duration // Disconnected time before auto-delete (default 5m).
	InboxPoll        time.Duration // Inbox fallback poll (default 60s).
	Autostart        bool          // Start every stored account in Run.

	GlobalLogCapacity int // default 200
	WorkerLogCapacity int // default 200
	AuditCapacity     int // default 300
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CallTimeout == 0 {
		out.CallTimeout = 10 * time.Second
	}
	if out.StopGrace == 0 {
		out.StopGrace = time.Second
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 5 * time.Second
	}
	if out.OfflineThreshold == 0 {
		out.OfflineThreshold = 5 * time.Minute
	}
	if out.InboxPoll == 0 {
		out.InboxPoll = 60 * time.Second
	}
	if out.GlobalLogCapacity == 0 {
		out.GlobalLogCapacity = 200
	}
	if out.WorkerLogCapacity == 0 {
		out.WorkerLogCapacity = 200
	}
	if out.AuditCapacity == 0 {
		out.AuditCapacity = 300
	}
	return out
}

// trackedWorker holds runtime state for a running worker. Fields other than
// the immutable ones are guarded by Supervisor.mu; writes to the worker are
// serialized by wmu.
type trackedWorker struct {
	account protocol.Account
	proc    Process
	logs    *logbuf.Ring[logbuf.Entry]
	done    chan struct{} // closed once the process has exited
	gone    chan struct{} // closed once dropped from the registry

	wmu sync.Mutex

	status            *protocol.StatusSnapshot
	pending           map[uint64]pendingCall // nil once detached
	nextID            uint64
	stopping          bool
	stopTimer         *time.Timer
	disconnectedSince time.Time
	offlineFired      bool
	deleted           bool
}

// send writes msg as one line to the worker's stdin.
func (w *trackedWorker) send(msg protocol.Message) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.write(msg)
}

// write is send for callers already holding wmu.
func (w *trackedWorker) write(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.proc.Stdin().Write(data); err != nil {
		return fmt.Errorf("write %s to worker %s: %w", msg.Type, w.account.ID, err)
	}
	return nil
}

// Supervisor is the coordinator process.
type Supervisor struct {
	cfg     Config
	store   *store.Store
	spawner Spawner
	logger  *slog.Logger
	nowFunc func() time.Time
	base    slog.Handler

	mu       sync.Mutex
	workers  map[string]*trackedWorker
	starting map[string]struct{} // accounts whose worker is being spawned
	settings protocol.Settings
	revision uint64

	// configMu serializes settings mutations end to end.
	configMu sync.Mutex

	globalLogs *logbuf.Ring[logbuf.Entry]
	audit      *logbuf.Ring[protocol.AuditEntry]
	readers    sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock overrides the time source used by the health monitor.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.nowFunc = now }
}

// WithLogHandler sets the console handler. Records are also kept in the
// global operational log.
func WithLogHandler(h slog.Handler) Option {
	return func(s *Supervisor) { s.base = h }
}

// New creates a Supervisor. It loads the persisted settings and seeds the
// revision counter with the current Unix time in milliseconds so revisions
// keep increasing across restarts. It does not start any worker; call Run.
func New(ctx context.Context, cfg Config, st *store.Store, spawner Spawner, opts ...Option) (*Supervisor, error) {
	resolved := cfg.withDefaults()
	s := &Supervisor{
		cfg:        resolved,
		store:      st,
		spawner:    spawner,
		nowFunc:    time.Now,
		workers:    make(map[string]*trackedWorker),
		starting:   make(map[string]struct{}),
		globalLogs: logbuf.NewRing[logbuf.Entry](resolved.GlobalLogCapacity),
		audit:      logbuf.NewRing[protocol.AuditEntry](resolved.AuditCapacity),
	}
	for _, o := range opts {
		o(s)
	}
	if s.base == nil {
		s.base = logging.NewHandler(os.Stderr, slog.LevelInfo)
	}
	s.logger = slog.New(logging.Fanout{
		s.base,
		logging.NewSinkHandler(slog.LevelInfo, s.keepLine),
	})

	settings, err := st.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.settings = settings
	s.revision = uint64(s.nowFunc().UnixMilli()) //nolint:gosec // wall clock is after 1970

	return s, nil
}

// Logger returns the supervisor's logger.
func (s *Supervisor) Logger() *slog.Logger { return s.logger }

// Run starts every stored account when Autostart is set, then serves the
// control socket and the account inbox until ctx is cancelled. On return all
// workers have been asked to stop.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.Autostart {
		s.startAll(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.SocketPath != "" {
		ln, err := s.listen()
		if err != nil {
			s.shutdown()
			return err
		}
		g.Go(func() error { return s.serveControl(gctx, ln) })
	}
	if s.cfg.InboxDir != "" {
		g.Go(func() error { return s.watchInbox(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	s.logger.Info("supervisor running", "module", "supervisor", "event", "start",
		"revision", s.Revision())
	err := g.Wait()
	s.shutdown()
	return err
}

// startAll starts a worker for every stored account.
func (s *Supervisor) startAll(ctx context.Context) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		s.logger.Error("load accounts", "module", "supervisor", "error", err)
		return
	}
	for _, a := range accounts {
		if err := s.StartWorker(a); err != nil {
			s.logger.Error("autostart failed", "module", "supervisor", "event", "start",
				"result", "error", "account", a.ID, "error", err)
		}
	}
}

// shutdown stops every worker and waits up to ShutdownTimeout for them to
// exit. Workers still registered afterwards are killed.
func (s *Supervisor) shutdown() {
	for _, id := range s.runningIDs() {
		_ = s.StopWorker(id)
	}

	deadline := time.NewTimer(s.cfg.ShutdownTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for s.RunningWorkers() > 0 {
		select {
		case <-deadline.C:
			s.mu.Lock()
			remaining := make([]*trackedWorker, 0, len(s.workers))
			for _, w := range s.workers {
				remaining = append(remaining, w)
			}
			s.mu.Unlock()
			for _, w := range remaining {
				s.forceStop(w)
			}
			return
		case <-ticker.C:
		}
	}
	s.readers.Wait()
}

// keepLine stores one of the supervisor's own log records in the global
// operational log.
func (s *Supervisor) keepLine(l logging.Line) {
	s.globalLogs.Push(logbuf.NewEntry(l.Time, l.Tag, l.Msg, l.IsWarn, l.Meta, "", ""))
}

// RunningWorkers returns the number of registered workers.
func (s *Supervisor) RunningWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// IsRunning reports whether a worker is registered for accountID.
func (s *Supervisor) IsRunning(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[accountID]
	return ok
}

func (s *Supervisor) runningIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}
