package supervisor

import (
	"context"
	"fmt"

	"croft/pkg/protocol"
)

// Settings returns the current settings and revision.
func (s *Supervisor) Settings() protocol.SettingsResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.SettingsResult{Settings: s.settings, Revision: s.revision}
}

// Revision returns the current configuration revision.
func (s *Supervisor) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// snapshotLocked builds the full configuration snapshot; the caller holds
// s.mu.
func (s *Supervisor) snapshotLocked() protocol.ConfigSnapshot {
	return protocol.ConfigSnapshot{Settings: s.settings, Revision: s.revision}
}

// UpdateSettings applies mutate to a copy of the settings, persists the
// result, bumps the revision and sends the full snapshot to every running
// worker. A mutate error leaves settings and revision untouched. Mutations
// are serialized, so workers receive revisions in increasing order.
func (s *Supervisor) UpdateSettings(ctx context.Context, mutate func(*protocol.Settings) error) (protocol.SettingsResult, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.mu.Lock()
	next := s.settings
	s.mu.Unlock()

	if err := mutate(&next); err != nil {
		return protocol.SettingsResult{}, err
	}
	if err := s.store.SaveSettings(ctx, next); err != nil {
		return protocol.SettingsResult{}, fmt.Errorf("persist settings: %w", err)
	}

	s.mu.Lock()
	s.settings = next
	s.revision++
	snap := s.snapshotLocked()
	targets := make([]*trackedWorker, 0, len(s.workers))
	for _, w := range s.workers {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	msg := protocol.Message{Type: protocol.MsgConfigSync, ConfigSync: &snap}
	for _, w := range targets {
		if err := w.send(msg); err != nil {
			s.logger.Warn("config sync failed", "module", "config", "event", "sync",
				"result", "error", "account", w.account.ID, "error", err)
		}
	}
	s.logger.Info("settings updated", "module", "config", "event", "update",
		"revision", snap.Revision, "workers", len(targets))

	return protocol.SettingsResult{Settings: snap.Settings, Revision: snap.Revision}, nil
}

// SetAutomation toggles one automation key.
func (s *Supervisor) SetAutomation(ctx context.Context, key string, value any) (protocol.SettingsResult, error) {
	return s.UpdateSettings(ctx, func(cfg *protocol.Settings) error {
		return cfg.Automation.Set(key, value)
	})
}

// SetStrategy changes the planting strategy.
func (s *Supervisor) SetStrategy(ctx context.Context, strategy protocol.PlantingStrategy) (protocol.SettingsResult, error) {
	return s.UpdateSettings(ctx, func(cfg *protocol.Settings) error {
		if !strategy.Valid() {
			return fmt.Errorf("%w: planting strategy %q", protocol.ErrInvalidSetting, strategy)
		}
		cfg.PlantingStrategy = strategy
		return nil
	})
}

// SetInterval changes the farm or friend cadence.
func (s *Supervisor) SetInterval(ctx context.Context, kind string, seconds int) (protocol.SettingsResult, error) {
	return s.UpdateSettings(ctx, func(cfg *protocol.Settings) error {
		return cfg.Intervals.Set(kind, seconds)
	})
}

// SetSeed changes the preferred seed; 0 means automatic.
func (s *Supervisor) SetSeed(ctx context.Context, seedID int64) (protocol.SettingsResult, error) {
	return s.UpdateSettings(ctx, func(cfg *protocol.Settings) error {
		if seedID < 0 {
			return fmt.Errorf("%w: seed id %d", protocol.ErrInvalidSetting, seedID)
		}
		cfg.PreferredSeedID = seedID
		return nil
	})
}

// SetQuietHours replaces the friend quiet-hours window.
func (s *Supervisor) SetQuietHours(ctx context.Context, q protocol.QuietHours) (protocol.SettingsResult, error) {
	return s.UpdateSettings(ctx, func(cfg *protocol.Settings) error {
		if err := q.Validate(); err != nil {
			return err
		}
		cfg.FriendQuietHours = q
		return nil
	})
}
