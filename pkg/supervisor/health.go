package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"croft/pkg/protocol"
)

// observeStatus records a worker's status snapshot and advances its offline
// state. The first disconnected snapshot starts the offline clock; a
// disconnected snapshot arriving OfflineThreshold or more later deletes the
// account, once. A connected snapshot resets the clock. Workers that are
// stopping are never auto-deleted.
func (s *Supervisor) observeStatus(w *trackedWorker, snap protocol.StatusSnapshot) {
	now := s.nowFunc()

	s.mu.Lock()
	snap.AccountID = w.account.ID
	if snap.AccountName == "" {
		snap.AccountName = w.account.Name
	}
	w.status = &snap

	if snap.Connection.Connected {
		w.disconnectedSince = time.Time{}
		w.offlineFired = false
		s.mu.Unlock()
		return
	}
	if w.stopping || w.deleted {
		s.mu.Unlock()
		return
	}
	if w.disconnectedSince.IsZero() {
		w.disconnectedSince = now
		s.mu.Unlock()
		return
	}
	offline := now.Sub(w.disconnectedSince)
	if w.offlineFired || offline < s.cfg.OfflineThreshold {
		s.mu.Unlock()
		return
	}
	w.offlineFired = true
	w.deleted = true
	s.mu.Unlock()

	s.deleteAccount(w, protocol.AuditOfflineDelete,
		fmt.Sprintf("account %s offline for %s, deleted", w.account.Name, offline.Round(time.Second)),
		map[string]string{"offline_ms": fmt.Sprint(offline.Milliseconds())})
}

// onKicked deletes the account immediately: a kick means the credential is
// no longer usable.
func (s *Supervisor) onKicked(w *trackedWorker, reason string) {
	s.mu.Lock()
	if w.deleted {
		s.mu.Unlock()
		return
	}
	w.deleted = true
	s.mu.Unlock()

	if reason == "" {
		reason = "unknown"
	}
	s.deleteAccount(w, protocol.AuditKickoutDelete,
		fmt.Sprintf("account %s kicked (%s), deleted", w.account.Name, reason),
		map[string]string{"reason": reason})
}

// deleteAccount logs and audits the deletion, stops the worker and removes
// the account from the store.
func (s *Supervisor) deleteAccount(w *trackedWorker, action protocol.AuditAction, msg string, extra map[string]string) {
	id := w.account.ID
	s.logger.Warn(msg, "module", "health", "event", string(action), "result", "deleted",
		"account", id)

	ctx := context.Background()
	s.recordAudit(ctx, protocol.AuditEntry{
		Time:        s.nowFunc(),
		Action:      action,
		Msg:         msg,
		AccountID:   id,
		AccountName: w.account.Name,
		Extra:       extra,
	})

	if err := s.StopWorker(id); err != nil {
		var unreachable *protocol.WorkerUnreachableError
		if !errors.As(err, &unreachable) {
			s.logger.Error("stop deleted account", "module", "health", "account", id, "error", err)
		}
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil && !errors.Is(err, protocol.ErrAccountNotFound) {
		s.logger.Error("delete account", "module", "health", "account", id, "error", err)
	}
}
