package protocol

import "encoding/json"

// ControlOp is an operation requested on the supervisor control socket.
type ControlOp string

// Control operations.
const (
	OpStatus        ControlOp = "status"
	OpLogs          ControlOp = "logs"
	OpAudit         ControlOp = "audit"
	OpAccounts      ControlOp = "accounts"
	OpAccountAdd    ControlOp = "account_add"
	OpAccountRemove ControlOp = "account_remove"
	OpAccountStart  ControlOp = "account_start"
	OpAccountStop   ControlOp = "account_stop"
	OpSettings      ControlOp = "settings"
	OpSetAutomation ControlOp = "set_automation"
	OpSetStrategy   ControlOp = "set_strategy"
	OpSetInterval   ControlOp = "set_interval"
	OpSetSeed       ControlOp = "set_seed"
	OpSetQuietHours ControlOp = "set_quiet_hours"
	OpCall          ControlOp = "call"
)

// ControlRequest is the single line a client writes to the control socket.
type ControlRequest struct {
	Op        ControlOp       `json:"op"`
	AccountID string          `json:"account_id,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// ControlResponse is the single line the supervisor answers with.
type ControlResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SetAutomationArgs toggles one automation key.
type SetAutomationArgs struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// SetStrategyArgs changes the planting strategy.
type SetStrategyArgs struct {
	Strategy PlantingStrategy `json:"strategy"`
}

// SetIntervalArgs changes one periodic task cadence.
type SetIntervalArgs struct {
	Kind    string `json:"kind"`
	Seconds int    `json:"seconds"`
}

// SetSeedArgs changes the preferred seed.
type SetSeedArgs struct {
	SeedID int64 `json:"seed_id"`
}

// CallArgs forwards one worker method through the request bridge.
type CallArgs struct {
	Method Method          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// LogQuery filters the operational log.
type LogQuery struct {
	Limit   int    `json:"limit,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Module  string `json:"module,omitempty"`
	Event   string `json:"event,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	IsWarn  *bool  `json:"is_warn,omitempty"`
}

// SettingsResult is returned by every mutating settings op. Revision is the
// revision a worker's status must reach to reflect the change.
type SettingsResult struct {
	Settings Settings `json:"settings"`
	Revision uint64   `json:"revision"`
}
