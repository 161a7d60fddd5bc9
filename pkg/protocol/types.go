package protocol

import "time"

// Platform tags an account's login platform.
type Platform string

// Known platforms.
const (
	PlatformQQ     Platform = "qq"
	PlatformWechat Platform = "wx"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformQQ || p == PlatformWechat
}

// Account is a managed game account. Code is the login credential and is
// never included in status or log output.
type Account struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Code     string   `json:"code,omitempty" yaml:"code"`
	Platform Platform `json:"platform" yaml:"platform"`
	Running  bool     `json:"running" yaml:"-"`
}

// AuditAction classifies an audit log entry.
type AuditAction string

// Audit actions.
const (
	AuditOfflineDelete AuditAction = "offline_delete"
	AuditKickoutDelete AuditAction = "kickout_delete"
	AuditAccountAdd    AuditAction = "account_add"
	AuditAccountRemove AuditAction = "account_remove"
)

// AuditEntry records a persistent account lifecycle event, kept apart from
// the transient operational log.
type AuditEntry struct {
	Time        time.Time         `json:"time"`
	Action      AuditAction       `json:"action"`
	Msg         string            `json:"msg"`
	AccountID   string            `json:"account_id,omitempty"`
	AccountName string            `json:"account_name,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}
