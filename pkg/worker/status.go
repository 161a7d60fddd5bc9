package worker

import (
	"maps"

	"croft/pkg/protocol"
)

// buildStatus assembles the current status snapshot from the session, the
// session statistics and the cached configuration.
func (w *Worker) buildStatus() protocol.StatusSnapshot {
	w.mu.Lock()
	start, sess, stats := w.start, w.session, w.stats
	settings, revision, ready, startedAt := w.settings, w.revision, w.loginReady, w.startedAt
	w.mu.Unlock()

	st := protocol.StatusSnapshot{
		StartedAt:       startedAt,
		Operations:      protocol.NewOperations(),
		Limits:          map[string]protocol.OpLimit{},
		Automation:      settings.Automation,
		PreferredSeedID: settings.PreferredSeedID,
		ConfigRevision:  revision,
	}
	if start != nil {
		st.AccountID = start.AccountID
		st.AccountName = start.Name
		st.User.Platform = start.Platform
	}
	if sess != nil {
		u := sess.User()
		st.Connection.Connected = ready && sess.Connected()
		st.User.Name = u.Name
		st.User.Level = u.Level
		st.User.Gold = u.Gold
		st.User.Exp = u.Exp
		if u.Platform != "" {
			st.User.Platform = u.Platform
		}
		if u.Level > 0 && u.Exp >= 0 {
			st.ExpProgress = u.Progress
		}
		maps.Copy(st.Limits, sess.Limits())
	}
	if stats != nil {
		snap := stats.Snapshot()
		maps.Copy(st.Operations, snap.Operations)
		st.SessionGoldGained = snap.SessionGoldGained
		st.SessionExpGained = snap.SessionExpGained
		st.LastGoldGain = snap.LastGoldGain
		st.LastExpGain = snap.LastExpGain
	}
	return st
}
