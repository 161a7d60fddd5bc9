package game

import (
	"maps"
	"sync"

	"croft/pkg/protocol"
)

// Stats accumulates a session's operation counters and gold/exp gains.
// It is safe for concurrent use.
type Stats struct {
	mu         sync.Mutex
	ops        map[string]int
	lastGold   int64
	lastExp    int64
	sessGold   int64
	sessExp    int64
	lastGGain  int64
	lastXPGain int64
}

// StatsSnapshot is a copy of Stats at one instant.
type StatsSnapshot struct {
	Operations        map[string]int
	SessionGoldGained int64
	SessionExpGained  int64
	LastGoldGain      int64
	LastExpGain       int64
}

// NewStats returns Stats with every known counter at zero.
func NewStats() *Stats {
	return &Stats{ops: protocol.NewOperations()}
}

// Baseline takes gold and exp as the starting point of a new session and
// clears the session gains. Operation counters survive.
func (s *Stats) Baseline(gold, exp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGold, s.lastExp = gold, exp
	s.sessGold, s.sessExp = 0, 0
	s.lastGGain, s.lastXPGain = 0, 0
}

// RecordOperation adds n to the counter op.
func (s *Stats) RecordOperation(op string, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.ops[op] += n
	s.mu.Unlock()
}

// Observe records new gold and exp totals. Increases count as session gains;
// decreases (spending) only move the reference point.
func (s *Stats) Observe(gold, exp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := gold - s.lastGold; d > 0 {
		s.sessGold += d
		s.lastGGain = d
	}
	if d := exp - s.lastExp; d > 0 {
		s.sessExp += d
		s.lastXPGain = d
	}
	s.lastGold, s.lastExp = gold, exp
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Operations:        maps.Clone(s.ops),
		SessionGoldGained: s.sessGold,
		SessionExpGained:  s.sessExp,
		LastGoldGain:      s.lastGGain,
		LastExpGain:       s.lastXPGain,
	}
}
