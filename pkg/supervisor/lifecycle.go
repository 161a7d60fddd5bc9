package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"croft/pkg/logbuf"
	"croft/pkg/protocol"
)

// maxMessageSize bounds one line read from a worker.
const maxMessageSize = 4 << 20

// StartWorker spawns a worker for account, sends it START followed by the
// current configuration snapshot, and begins reading its messages. It is a
// no-op if a worker is already registered or being started for the account.
// The spawn runs without holding the registry lock.
func (s *Supervisor) StartWorker(account protocol.Account) error {
	s.mu.Lock()
	_, exists := s.workers[account.ID]
	_, pending := s.starting[account.ID]
	if exists || pending {
		s.mu.Unlock()
		return nil
	}
	s.starting[account.ID] = struct{}{}
	s.mu.Unlock()

	proc, err := s.spawner.Spawn(account.ID)
	if err != nil {
		s.mu.Lock()
		delete(s.starting, account.ID)
		s.mu.Unlock()
		return fmt.Errorf("start worker %s: %w", account.ID, err)
	}

	w := &trackedWorker{
		account: account,
		proc:    proc,
		logs:    logbuf.NewRing[logbuf.Entry](s.cfg.WorkerLogCapacity),
		done:    make(chan struct{}),
		gone:    make(chan struct{}),
		pending: make(map[uint64]pendingCall),
	}
	// Hold the write lock until START and CONFIG_SYNC are out so that no
	// broadcast or call can reach the worker first. The snapshot is taken
	// under s.mu together with registration so a broadcast either sees the
	// worker or is already part of the snapshot.
	w.wmu.Lock()
	s.mu.Lock()
	delete(s.starting, account.ID)
	s.workers[account.ID] = w
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.readers.Add(1)
	go s.readLoop(w)

	platform := account.Platform
	if platform == "" {
		platform = protocol.PlatformQQ
	}
	start := protocol.Message{Type: protocol.MsgStart, Start: &protocol.StartPayload{
		AccountID:  account.ID,
		Name:       account.Name,
		Credential: account.Code,
		Platform:   string(platform),
	}}
	cfg := protocol.Message{Type: protocol.MsgConfigSync, ConfigSync: &snap}

	err = w.write(start)
	if err == nil {
		err = w.write(cfg)
	}
	w.wmu.Unlock()
	if err != nil {
		s.logger.Error("worker handshake failed", "module", "supervisor", "event", "start",
			"result", "error", "account", account.ID, "error", err)
		s.forceStop(w)
		return fmt.Errorf("start worker %s: %w", account.ID, err)
	}

	s.logger.Info("worker started", "module", "supervisor", "event", "start",
		"result", "ok", "account", account.ID, "name", account.Name)
	return nil
}

// StopWorker marks the worker stopping, sends STOP, and arms a timer that
// kills the process and drops the registry entry after StopGrace if the
// worker has not exited by then.
func (s *Supervisor) StopWorker(accountID string) error {
	s.mu.Lock()
	w, ok := s.workers[accountID]
	if !ok {
		s.mu.Unlock()
		return &protocol.WorkerUnreachableError{AccountID: accountID}
	}
	if w.stopping {
		s.mu.Unlock()
		return nil
	}
	w.stopping = true
	w.stopTimer = time.AfterFunc(s.cfg.StopGrace, func() { s.forceStop(w) })
	s.mu.Unlock()

	if err := w.send(protocol.Message{Type: protocol.MsgStop}); err != nil {
		s.logger.Debug("send stop", "module", "supervisor", "account", accountID, "error", err)
	}
	s.logger.Info("worker stopping", "module", "supervisor", "event", "stop",
		"account", accountID)
	return nil
}

// forceStop removes w from the registry, rejects its pending calls, and
// kills the process if it is still alive.
func (s *Supervisor) forceStop(w *trackedWorker) {
	removed := s.detach(w)
	select {
	case <-w.done:
		return
	default:
	}
	if removed {
		s.logger.Warn("worker did not exit, killing", "module", "supervisor", "event", "stop",
			"result", "forced", "account", w.account.ID)
	}
	if err := w.proc.Kill(); err != nil {
		s.logger.Error("kill worker", "module", "supervisor", "account", w.account.ID, "error", err)
	}
}

// detach drops w from the registry if it is still the registered worker for
// its account and rejects every pending call. It reports whether w was
// still registered.
func (s *Supervisor) detach(w *trackedWorker) bool {
	s.mu.Lock()
	removed := false
	if cur, ok := s.workers[w.account.ID]; ok && cur == w {
		delete(s.workers, w.account.ID)
		close(w.gone)
		removed = true
	}
	pending := w.pending
	w.pending = nil
	if w.stopTimer != nil {
		w.stopTimer.Stop()
	}
	s.mu.Unlock()

	for id, pc := range pending {
		pc.ch <- callResult{err: &protocol.WorkerExitedError{
			AccountID: w.account.ID, Method: pc.method, ID: id,
		}}
	}
	return removed
}

// readLoop decodes worker messages until the worker's stdout closes, then
// reaps the process and unregisters it.
func (s *Supervisor) readLoop(w *trackedWorker) {
	defer s.readers.Done()

	scanner := bufio.NewScanner(w.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		var msg protocol.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("undecodable worker message", "module", "supervisor",
				"account", w.account.ID, "error", err)
			continue
		}
		s.handleMessage(w, msg)
	}

	waitErr := w.proc.Wait()
	close(w.done)
	s.detach(w)

	if waitErr != nil {
		s.logger.Warn("worker exited", "module", "supervisor", "event", "exit",
			"result", "error", "account", w.account.ID, "error", waitErr)
		return
	}
	s.logger.Info("worker exited", "module", "supervisor", "event", "exit",
		"result", "ok", "account", w.account.ID)
}

// handleMessage dispatches one worker message.
func (s *Supervisor) handleMessage(w *trackedWorker, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgStatusSync:
		if msg.StatusSync != nil {
			s.observeStatus(w, *msg.StatusSync)
		}
	case protocol.MsgLog:
		if msg.Log != nil {
			s.keepWorkerLog(w, *msg.Log)
		}
	case protocol.MsgError:
		if msg.Error != nil {
			s.logger.Warn("worker error: "+msg.Error.Message, "module", "supervisor",
				"event", "worker_error", "account", w.account.ID)
		}
	case protocol.MsgAccountKicked:
		reason := ""
		if msg.Kicked != nil {
			reason = msg.Kicked.Reason
		}
		s.onKicked(w, reason)
	case protocol.MsgAPIResponse:
		if msg.APIResponse != nil {
			s.resolve(w, *msg.APIResponse)
		}
	default:
		s.logger.Debug("unknown worker message", "module", "supervisor",
			"account", w.account.ID, "type", string(msg.Type))
	}
}
