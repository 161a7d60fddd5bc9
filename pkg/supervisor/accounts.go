package supervisor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"croft/pkg/logbuf"
	"croft/pkg/protocol"

	"github.com/google/uuid"
)

// Accounts lists stored accounts with their running flag. Credentials are
// not included.
func (s *Supervisor) Accounts(ctx context.Context) ([]protocol.Account, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range accounts {
		accounts[i].Code = ""
		_, accounts[i].Running = s.workers[accounts[i].ID]
	}
	return accounts, nil
}

// AddAccount stores a new or updated account and starts its worker. An
// empty ID gets a fresh UUID and an empty name defaults to the ID.
func (s *Supervisor) AddAccount(ctx context.Context, a protocol.Account) (protocol.Account, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if strings.TrimSpace(a.Name) == "" {
		a.Name = a.ID
	}
	if a.Platform == "" {
		a.Platform = protocol.PlatformQQ
	}
	if !a.Platform.Valid() {
		return protocol.Account{}, fmt.Errorf("%w: platform %q", protocol.ErrInvalidSetting, a.Platform)
	}
	if a.Code == "" {
		return protocol.Account{}, fmt.Errorf("%w: account %s has no login code", protocol.ErrInvalidSetting, a.ID)
	}

	if err := s.store.SaveAccount(ctx, a); err != nil {
		return protocol.Account{}, err
	}
	s.recordAudit(ctx, protocol.AuditEntry{
		Time:        s.nowFunc(),
		Action:      protocol.AuditAccountAdd,
		Msg:         "account " + a.Name + " added",
		AccountID:   a.ID,
		AccountName: a.Name,
	})

	if err := s.restartIfChanged(ctx, a); err != nil {
		return protocol.Account{}, err
	}
	a.Running = true
	a.Code = ""
	return a, nil
}

// restartIfChanged starts a's worker. A worker already running with a
// different credential or platform is stopped first and replaced once it
// has left the registry.
func (s *Supervisor) restartIfChanged(ctx context.Context, a protocol.Account) error {
	s.mu.Lock()
	w, ok := s.workers[a.ID]
	s.mu.Unlock()
	if !ok || (w.account.Code == a.Code && w.account.Platform == a.Platform) {
		return s.StartWorker(a)
	}

	s.logger.Info("credential changed, restarting worker", "module", "supervisor",
		"event", "restart", "account", a.ID)
	if err := s.StopWorker(a.ID); err != nil {
		var unreachable *protocol.WorkerUnreachableError
		if !errors.As(err, &unreachable) {
			return err
		}
	}
	select {
	case <-w.gone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.StartWorker(a)
}

// RemoveAccount stops the account's worker and deletes it from the store.
func (s *Supervisor) RemoveAccount(ctx context.Context, id string) error {
	a, err := s.store.Account(ctx, id)
	if err != nil {
		return err
	}
	if err := s.StopWorker(id); err != nil {
		var unreachable *protocol.WorkerUnreachableError
		if !errors.As(err, &unreachable) {
			return err
		}
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, protocol.AuditEntry{
		Time:        s.nowFunc(),
		Action:      protocol.AuditAccountRemove,
		Msg:         "account " + a.Name + " removed",
		AccountID:   a.ID,
		AccountName: a.Name,
	})
	return nil
}

// StartAccount starts the worker of a stored account.
func (s *Supervisor) StartAccount(ctx context.Context, id string) error {
	a, err := s.store.Account(ctx, id)
	if err != nil {
		return err
	}
	return s.StartWorker(a)
}

// Status returns the account's latest status, normalized so that every
// operation counter is present. Accounts whose worker is not running or has
// not reported yet get a disconnected default snapshot.
func (s *Supervisor) Status(ctx context.Context, id string) (protocol.StatusSnapshot, error) {
	a, err := s.store.Account(ctx, id)
	if err != nil {
		return protocol.StatusSnapshot{}, err
	}
	return s.statusOf(a), nil
}

// Statuses returns Status for every stored account.
func (s *Supervisor) Statuses(ctx context.Context) ([]protocol.StatusSnapshot, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.StatusSnapshot, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, s.statusOf(a))
	}
	return out, nil
}

func (s *Supervisor) statusOf(a protocol.Account) protocol.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := protocol.StatusSnapshot{
		Operations:      protocol.NewOperations(),
		Limits:          map[string]protocol.OpLimit{},
		Automation:      s.settings.Automation,
		PreferredSeedID: s.settings.PreferredSeedID,
		ConfigRevision:  s.revision,
		User:            protocol.UserStatus{Platform: string(a.Platform)},
	}
	if w, ok := s.workers[a.ID]; ok && w.status != nil {
		ops := snap.Operations
		snap = *w.status
		maps.Copy(ops, w.status.Operations)
		snap.Operations = ops
		if snap.Limits == nil {
			snap.Limits = map[string]protocol.OpLimit{}
		}
	}
	snap.AccountID = a.ID
	snap.AccountName = a.Name
	return snap
}

// keepWorkerLog stores a forwarded worker log line in the worker's own log
// and the global log.
func (s *Supervisor) keepWorkerLog(w *trackedWorker, p protocol.LogPayload) {
	t, err := time.Parse(protocol.LogTimeLayout, p.Time)
	if err != nil {
		t = s.nowFunc()
	}
	e := logbuf.NewEntry(t, p.Tag, p.Msg, p.IsWarn, p.Meta, w.account.ID, w.account.Name)
	w.logs.Push(e)
	s.globalLogs.Push(e)
}

// Logs returns operational log entries matching q, newest first. With an
// account id, a running worker's own log is read; otherwise the global log
// is filtered.
func (s *Supervisor) Logs(accountID string, q protocol.LogQuery) []logbuf.Entry {
	f := logbuf.NewFilter(accountID, q)
	if accountID != "" {
		s.mu.Lock()
		w, ok := s.workers[accountID]
		s.mu.Unlock()
		if ok {
			return logbuf.Query(w.logs, f)
		}
	}
	return logbuf.Query(s.globalLogs, f)
}

// recordAudit keeps e in memory and persists it.
func (s *Supervisor) recordAudit(ctx context.Context, e protocol.AuditEntry) {
	s.audit.Push(e)
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.logger.Error("persist audit entry", "module", "audit", "event", string(e.Action),
			"account", e.AccountID, "error", err)
	}
}

// Audit returns up to limit audit entries, newest first, optionally for one
// account. The store is authoritative; the in-memory copy is used when it
// cannot be read.
func (s *Supervisor) Audit(ctx context.Context, accountID string, limit int) []protocol.AuditEntry {
	if limit <= 0 {
		limit = logbuf.DefaultLimit
	}
	entries, err := s.store.Audit(ctx, accountID, limit)
	if err == nil {
		return entries
	}
	s.logger.Warn("read audit from store", "module", "audit", "error", err)
	return s.audit.Newest(limit, func(e protocol.AuditEntry) bool {
		return accountID == "" || e.AccountID == accountID
	})
}
