package protocol

import "time"

// OperationKeys lists every operation counter a status snapshot reports.
var OperationKeys = []string{ //nolint:gochecknoglobals // fixed key set shared by worker and supervisor
	"harvest", "water", "weed", "bug", "fertilize", "plant", "steal",
	"helpWater", "helpWeed", "helpBug", "taskClaim", "sell", "upgrade",
}

// StatusSnapshot is a worker's point-in-time view of its session. The worker
// transmits it only when its content changed or the heartbeat ceiling passed,
// so it must not contain fields that change on every tick.
type StatusSnapshot struct {
	AccountID   string `json:"account_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`

	Connection Connection `json:"connection"`
	User       UserStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at,omitzero"`

	Operations        map[string]int     `json:"operations"`
	SessionExpGained  int64              `json:"session_exp_gained"`
	SessionGoldGained int64              `json:"session_gold_gained"`
	LastExpGain       int64              `json:"last_exp_gain"`
	LastGoldGain      int64              `json:"last_gold_gain"`
	Limits            map[string]OpLimit `json:"limits"`
	Automation        Automation         `json:"automation"`
	PreferredSeedID   int64              `json:"preferred_seed"`
	ExpProgress       ExpProgress        `json:"exp_progress"`
	ConfigRevision    uint64             `json:"config_revision"`
}

// Connection reports whether the game session is authenticated and open.
type Connection struct {
	Connected bool `json:"connected"`
}

// UserStatus is the player's headline state.
type UserStatus struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Gold     int64  `json:"gold"`
	Exp      int64  `json:"exp"`
	Platform string `json:"platform"`
}

// OpLimit is a daily cap on a friend operation.
type OpLimit struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// ExpProgress is the experience inside the current level.
type ExpProgress struct {
	Level   int   `json:"level"`
	Current int64 `json:"current"`
	Needed  int64 `json:"needed"`
}

// NewOperations returns a counter map with every OperationKeys entry at 0.
func NewOperations() map[string]int {
	ops := make(map[string]int, len(OperationKeys))
	for _, k := range OperationKeys {
		ops[k] = 0
	}
	return ops
}
