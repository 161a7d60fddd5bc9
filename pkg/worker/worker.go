// Package worker implements the per-account worker process. It reads
// supervisor messages as line-delimited JSON, drives one game session with a
// unified scheduler, answers API calls, and reports deduplicated status.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"croft/pkg/game"
	"croft/pkg/logging"
	"croft/pkg/protocol"
	"croft/pkg/scheduler"
)

// maxMessageSize bounds one incoming line.
const maxMessageSize = 1 << 20

// Config holds the worker's timing knobs.
type Config struct {
	PollInterval   time.Duration
	StatusInterval time.Duration
	StatusCeiling  time.Duration
	// KickStopDelay separates the ACCOUNT_KICKED notice from the self-stop.
	KickStopDelay time.Duration
	LogLevel      slog.Level
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:   scheduler.DefaultPollInterval,
		StatusInterval: 3 * time.Second,
		StatusCeiling:  8 * time.Second,
		KickStopDelay:  200 * time.Millisecond,
		LogLevel:       slog.LevelInfo,
	}
}

// Worker is one account's automation process.
type Worker struct {
	r       io.Reader
	w       io.Writer
	wmu     sync.Mutex
	factory game.Factory
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time

	mu         sync.Mutex
	start      *protocol.StartPayload
	session    game.Session
	stats      *game.Stats
	settings   protocol.Settings
	revision   uint64
	loginReady bool
	startedAt  time.Time
	sched      *scheduler.Scheduler
	reporter   *Reporter
	bgCancel   context.CancelFunc
	stopped    bool

	selling  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Worker.
type Option func(*Worker)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(w *Worker) { w.cfg = cfg }
}

// WithClock overrides the time source of the worker and its scheduler.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.nowFunc = now }
}

// WithStderr sets where the worker's own log lines are written in addition
// to being forwarded to the supervisor.
func WithStderr(out io.Writer) Option {
	return func(w *Worker) { w.logger = w.newLogger(out) }
}

// New creates a Worker reading supervisor messages from r and writing its
// own to w. factory opens the game session on START.
func New(r io.Reader, w io.Writer, factory game.Factory, opts ...Option) *Worker {
	wk := &Worker{
		r:        r,
		w:        w,
		factory:  factory,
		cfg:      DefaultConfig(),
		nowFunc:  time.Now,
		settings: protocol.DefaultSettings(),
		stopCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(wk)
	}
	if wk.logger == nil {
		wk.logger = wk.newLogger(os.Stderr)
	}
	return wk
}

// newLogger tees records to out and, as LOG messages, to the supervisor.
func (w *Worker) newLogger(out io.Writer) *slog.Logger {
	level := &w.cfg.LogLevel
	return slog.New(logging.Fanout{
		logging.NewHandler(out, levelRef{level}),
		logging.NewSinkHandler(levelRef{level}, w.forwardLog),
	})
}

// levelRef reads the configured level at log time so WithConfig may follow
// WithStderr.
type levelRef struct{ l *slog.Level }

func (r levelRef) Level() slog.Level { return *r.l }

// Logger returns the worker's logger.
func (w *Worker) Logger() *slog.Logger { return w.logger }

// Run is the main event loop. It returns nil after STOP, a self-stop, the
// supervisor closing the channel, or context cancellation. Shutdown lets an
// in-flight automation task finish.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanner := bufio.NewScanner(w.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	msgCh := make(chan protocol.Message)
	errCh := make(chan error, 1)

	// Read messages in a goroutine so we can select on ctx.Done.
	go func() {
		for scanner.Scan() {
			var msg protocol.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue // skip malformed messages
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- io.EOF
		}
	}()

	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case msg := <-msgCh:
			if w.handleMessage(ctx, msg) {
				return nil
			}
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read supervisor channel: %w", err)
		}
	}
}

// handleMessage processes one message and reports whether the worker should
// stop. Handling errors are reported to the supervisor as ERROR messages.
func (w *Worker) handleMessage(ctx context.Context, msg protocol.Message) bool {
	var err error
	switch msg.Type {
	case protocol.MsgStart:
		err = w.handleStart(ctx, msg.Start)
	case protocol.MsgStop:
		return true
	case protocol.MsgConfigSync:
		err = w.applyConfig(msg.ConfigSync)
	case protocol.MsgAPICall:
		if msg.APICall == nil {
			err = errors.New("API_CALL message missing payload")
			break
		}
		go w.handleAPICall(ctx, *msg.APICall)
	default:
		// Unknown message type, ignore
	}
	if err != nil {
		w.logger.Warn(err.Error(), "module", "worker", "event", string(msg.Type), "result", "error")
		_ = w.sendMessage(protocol.Message{Type: protocol.MsgError, Error: &protocol.ErrorPayload{Message: err.Error()}})
	}
	return false
}

// handleStart opens the session, starts the status reporter and logs in in
// the background. The scheduler starts once login succeeds. A second START
// is ignored.
func (w *Worker) handleStart(ctx context.Context, start *protocol.StartPayload) error {
	if start == nil {
		return errors.New("START message missing payload")
	}

	w.mu.Lock()
	if w.start != nil {
		w.mu.Unlock()
		return nil
	}
	startCopy := *start
	w.start = &startCopy
	w.startedAt = w.nowFunc()
	stats := game.NewStats()
	w.stats = stats
	settings := w.settings
	w.mu.Unlock()

	sess, err := w.factory(startCopy, stats, w.logger)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	sess.Configure(settings)

	sched := scheduler.New(w.tasks(),
		scheduler.WithReady(w.ready),
		scheduler.WithClock(w.nowFunc),
		scheduler.WithPollInterval(w.cfg.PollInterval),
		scheduler.WithLogger(w.logger))
	reporter := NewReporter(w.buildStatus, w.sendStatus, w.cfg.StatusCeiling, w.nowFunc)
	bgCtx, bgCancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.session = sess
	w.sched = sched
	w.reporter = reporter
	w.bgCancel = bgCancel
	w.mu.Unlock()

	w.logger.Info("connecting to game server", "module", "session", "event", "connect")
	go reporter.Run(bgCtx, w.cfg.StatusInterval)
	go w.watchKick(bgCtx, sess)
	go w.login(bgCtx, sess)
	return nil
}

func (w *Worker) login(ctx context.Context, sess game.Session) {
	if err := sess.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("login failed: "+err.Error(), "module", "session", "event", "login", "result", "error")
		}
		return
	}
	w.onLogin(ctx)
}

// onLogin starts the scheduler and sends an immediate status.
func (w *Worker) onLogin(ctx context.Context) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.loginReady = true
	sched, reporter := w.sched, w.reporter
	w.mu.Unlock()

	// A shutdown racing this Start still ends the loop through ctx.
	sched.Start(ctx)
	reporter.Tick()
}

func (w *Worker) ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loginReady && w.session != nil && w.session.Connected()
}

// watchKick turns a server kick into ACCOUNT_KICKED followed by a self-stop.
func (w *Worker) watchKick(ctx context.Context, sess game.Session) {
	select {
	case <-ctx.Done():
		return
	case reason := <-sess.Kicked():
		if reason == "" {
			reason = "unknown"
		}
		w.logger.Warn("kicked by server, account will be removed: "+reason,
			"module", "session", "event", "kickout", "result", "kicked")
		_ = w.sendMessage(protocol.Message{
			Type:   protocol.MsgAccountKicked,
			Kicked: &protocol.KickedPayload{Reason: reason},
		})
		time.AfterFunc(w.cfg.KickStopDelay, w.requestStop)
	}
}

func (w *Worker) requestStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// applyConfig caches snapshot unless it is older than the applied revision,
// pushes it to the session, recomputes task due-times and reports status.
func (w *Worker) applyConfig(snapshot *protocol.ConfigSnapshot) error {
	if snapshot == nil {
		return errors.New("CONFIG_SYNC message missing payload")
	}

	w.mu.Lock()
	if snapshot.Revision < w.revision {
		applied := w.revision
		w.mu.Unlock()
		w.logger.Debug("ignoring stale config", "module", "config", "revision", snapshot.Revision, "applied", applied)
		return nil
	}
	w.settings = snapshot.Settings
	w.revision = snapshot.Revision
	sess, sched, reporter, ready := w.session, w.sched, w.reporter, w.loginReady
	w.mu.Unlock()

	if sess != nil {
		sess.Configure(snapshot.Settings)
	}
	if ready && sched != nil {
		sched.Reschedule()
	}
	if reporter != nil {
		reporter.Tick()
	}
	return nil
}

// shutdown stops the scheduler (waiting for an in-flight task), stops the
// background goroutines and closes the session.
func (w *Worker) shutdown() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.loginReady = false
	sched, sess, cancel := w.sched, w.session, w.bgCancel
	w.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	w.logger.Info("worker stopped", "module", "worker", "event", "stop")
}

// Settings returns the cached configuration and its revision.
func (w *Worker) Settings() (protocol.Settings, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings, w.revision
}

// sendMessage encodes and writes a protocol.Message as line-delimited JSON.
func (w *Worker) sendMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (w *Worker) sendStatus(st protocol.StatusSnapshot) error {
	return w.sendMessage(protocol.Message{Type: protocol.MsgStatusSync, StatusSync: &st})
}

// forwardLog sends one log line to the supervisor. Write failures are
// dropped: logging them would recurse.
func (w *Worker) forwardLog(l logging.Line) {
	_ = w.sendMessage(protocol.Message{
		Type: protocol.MsgLog,
		Log: &protocol.LogPayload{
			Time:   l.Time.Format(protocol.LogTimeLayout),
			Tag:    l.Tag,
			Msg:    l.Msg,
			IsWarn: l.IsWarn,
			Meta:   l.Meta,
		},
	})
}
