package logbuf

import (
	"strings"
	"time"

	"croft/pkg/protocol"
)

// DefaultLimit is the number of entries returned when a query sets none.
const DefaultLimit = 100

// Entry is one operational log line, either the supervisor's own or one
// forwarded by a worker.
type Entry struct {
	Time        time.Time        `json:"time"`
	Tag         string           `json:"tag"`
	Msg         string           `json:"msg"`
	IsWarn      bool             `json:"is_warn"`
	Meta        protocol.LogMeta `json:"meta"`
	AccountID   string           `json:"account_id,omitempty"`
	AccountName string           `json:"account_name,omitempty"`

	search string
}

// NewEntry builds an Entry and precomputes its lower-cased search text.
func NewEntry(t time.Time, tag, msg string, isWarn bool, meta protocol.LogMeta, accountID, accountName string) Entry {
	e := Entry{
		Time:        t,
		Tag:         tag,
		Msg:         msg,
		IsWarn:      isWarn,
		Meta:        meta,
		AccountID:   accountID,
		AccountName: accountName,
	}
	e.search = strings.ToLower(strings.Join([]string{msg, tag, meta.Module, meta.Event, meta.Result}, " "))
	return e
}

// Filter is a compiled protocol.LogQuery.
type Filter struct {
	accountID string
	tag       string
	module    string
	event     string
	isWarn    *bool
	terms     []string
	limit     int
}

// NewFilter compiles q. A non-empty accountID restricts matches to that
// account's entries. Keyword terms are whitespace-separated and all must
// occur in the entry text.
func NewFilter(accountID string, q protocol.LogQuery) Filter {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return Filter{
		accountID: accountID,
		tag:       strings.TrimSpace(q.Tag),
		module:    strings.TrimSpace(q.Module),
		event:     strings.TrimSpace(q.Event),
		isWarn:    q.IsWarn,
		terms:     strings.Fields(strings.ToLower(q.Keyword)),
		limit:     limit,
	}
}

// Limit returns the maximum number of entries the query wants.
func (f Filter) Limit() int { return f.limit }

// Match reports whether e passes every set criterion.
func (f Filter) Match(e Entry) bool {
	if f.accountID != "" && e.AccountID != f.accountID {
		return false
	}
	if f.tag != "" && e.Tag != f.tag {
		return false
	}
	if f.module != "" && e.Meta.Module != f.module {
		return false
	}
	if f.event != "" && e.Meta.Event != f.event {
		return false
	}
	if f.isWarn != nil && e.IsWarn != *f.isWarn {
		return false
	}
	for _, term := range f.terms {
		if !strings.Contains(e.search, term) {
			return false
		}
	}
	return true
}

// Query returns the newest entries of r matching f, newest first.
func Query(r *Ring[Entry], f Filter) []Entry {
	return r.Newest(f.Limit(), f.Match)
}
