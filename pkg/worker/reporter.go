package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"croft/pkg/protocol"

	"github.com/cespare/xxhash/v2"
)

// Reporter sends a status snapshot when its content changed since the last
// send, or when the heartbeat ceiling has passed without a send.
type Reporter struct {
	build   func() protocol.StatusSnapshot
	send    func(protocol.StatusSnapshot) error
	ceiling time.Duration
	nowFunc func() time.Time

	mu       sync.Mutex
	lastHash uint64
	lastSent time.Time
	sent     bool
}

// NewReporter creates a Reporter.
func NewReporter(build func() protocol.StatusSnapshot, send func(protocol.StatusSnapshot) error,
	ceiling time.Duration, now func() time.Time,
) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{build: build, send: send, ceiling: ceiling, nowFunc: now}
}

// Tick builds a snapshot and sends it if needed. It reports whether a
// snapshot was sent. Concurrent ticks send snapshots in the order they were
// built.
func (r *Reporter) Tick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.build()
	data, err := json.Marshal(st)
	if err != nil {
		return false
	}
	hash := xxhash.Sum64(data)

	now := r.nowFunc()
	if r.sent && hash == r.lastHash && now.Sub(r.lastSent) <= r.ceiling {
		return false
	}
	if err := r.send(st); err != nil {
		return false
	}
	r.sent = true
	r.lastHash = hash
	r.lastSent = now
	return true
}

// Run ticks every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}
