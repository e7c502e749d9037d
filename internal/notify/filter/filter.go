// Package filter decides whether an inbound push notification reaches the
// store and the UI at all.
package filter

import (
	"sync"
	"time"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
)

// Verdict explains a filter decision
type Verdict string

const (
	VerdictAccepted  Verdict = "accepted"
	VerdictStale     Verdict = "stale"
	VerdictDuplicate Verdict = "duplicate"
)

// Config holds the filter policy windows
type Config struct {
	// StaleWindow is the maximum age of a pushed notification before it is
	// treated as a replay and dropped.
	StaleWindow time.Duration
	// RepeatWindow is the minimum time between two accepted deliveries of
	// the same notification id.
	RepeatWindow time.Duration
}

// DefaultConfig returns the default policy windows
func DefaultConfig() Config {
	return Config{
		StaleWindow:  60 * time.Second,
		RepeatWindow: 2 * time.Second,
	}
}

// Filter suppresses stale and duplicate push deliveries. It depends on
// nothing but its own accept history, so it is testable in isolation.
type Filter struct {
	mu       sync.Mutex
	cfg      Config
	accepted map[string]time.Time
	metrics  *metrics.Metrics
}

// New creates a filter with the given policy
func New(cfg Config, m *metrics.Metrics) *Filter {
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = DefaultConfig().StaleWindow
	}
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = DefaultConfig().RepeatWindow
	}
	return &Filter{
		cfg:      cfg,
		accepted: make(map[string]time.Time),
		metrics:  m,
	}
}

// ShouldAccept decides accept/drop for a push delivery at time now.
// Accepting records the id so a repeat within RepeatWindow is rejected.
func (f *Filter) ShouldAccept(rec *model.Record, now time.Time) bool {
	return f.Decide(rec, now) == VerdictAccepted
}

// Decide is ShouldAccept with the drop reason exposed
func (f *Filter) Decide(rec *model.Record, now time.Time) Verdict {
	if rec.Age(now) > f.cfg.StaleWindow {
		f.count(VerdictStale)
		return VerdictStale
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if at, ok := f.accepted[rec.ID]; ok && now.Sub(at) < f.cfg.RepeatWindow {
		f.count(VerdictDuplicate)
		return VerdictDuplicate
	}

	f.accepted[rec.ID] = now
	f.gc(now)
	f.count(VerdictAccepted)
	return VerdictAccepted
}

// Reset clears the accept history, for connection teardown
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = make(map[string]time.Time)
}

// gc drops history entries older than the repeat window; called with the
// lock held.
func (f *Filter) gc(now time.Time) {
	for id, at := range f.accepted {
		if now.Sub(at) >= f.cfg.RepeatWindow {
			delete(f.accepted, id)
		}
	}
}

func (f *Filter) count(v Verdict) {
	if f.metrics == nil {
		return
	}
	if v == VerdictAccepted {
		f.metrics.PushesAccepted.Inc()
		return
	}
	f.metrics.PushesDropped.WithLabelValues(string(v)).Inc()
}
