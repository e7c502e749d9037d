package filter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/huddleup/huddle-notify/internal/notify/model"
)

func rec(id string, createdAt time.Time) *model.Record {
	return &model.Record{ID: id, Kind: model.KindReaction, CreatedAt: createdAt}
}

func TestFilterStaleness(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f := New(DefaultConfig(), nil)

	tests := []struct {
		name string
		age  time.Duration
		want Verdict
	}{
		{"fresh", 0, VerdictAccepted},
		{"just inside window", 59 * time.Second, VerdictAccepted},
		{"exactly at window", 60 * time.Second, VerdictAccepted},
		{"just past window", 60*time.Second + time.Millisecond, VerdictStale},
		{"very old replay", time.Hour, VerdictStale},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec(fmt.Sprintf("n%d", i), now.Add(-tt.age))
			assert.Equal(t, tt.want, f.Decide(r, now))
		})
	}
}

func TestFilterDuplicateWindow(t *testing.T) {
	now := time.Now()
	f := New(DefaultConfig(), nil)

	r := rec("n1", now)
	assert.Equal(t, VerdictAccepted, f.Decide(r, now))

	// Same id again, inside the repeat window
	assert.Equal(t, VerdictDuplicate, f.Decide(r, now.Add(time.Second)))
	assert.Equal(t, VerdictDuplicate, f.Decide(r, now.Add(2*time.Second-time.Millisecond)))

	// Once the window elapses the same id is deliverable again
	assert.Equal(t, VerdictAccepted, f.Decide(r, now.Add(2*time.Second)))
}

func TestFilterDistinctIDsIndependent(t *testing.T) {
	now := time.Now()
	f := New(DefaultConfig(), nil)

	assert.True(t, f.ShouldAccept(rec("n1", now), now))
	assert.True(t, f.ShouldAccept(rec("n2", now), now))
	assert.False(t, f.ShouldAccept(rec("n1", now), now))
}

func TestFilterStaleDoesNotRecordID(t *testing.T) {
	now := time.Now()
	f := New(DefaultConfig(), nil)

	// A stale delivery must not poison the id for a later fresh one
	stale := rec("n1", now.Add(-2*time.Minute))
	assert.Equal(t, VerdictStale, f.Decide(stale, now))

	fresh := rec("n1", now)
	assert.Equal(t, VerdictAccepted, f.Decide(fresh, now))
}

func TestFilterReset(t *testing.T) {
	now := time.Now()
	f := New(DefaultConfig(), nil)

	assert.True(t, f.ShouldAccept(rec("n1", now), now))
	assert.False(t, f.ShouldAccept(rec("n1", now), now))

	f.Reset()
	assert.True(t, f.ShouldAccept(rec("n1", now), now))
}

func TestFilterZeroConfigGetsDefaults(t *testing.T) {
	now := time.Now()
	f := New(Config{}, nil)

	// Defaults apply: 30s old is fresh, immediate repeat is a duplicate
	assert.Equal(t, VerdictAccepted, f.Decide(rec("n1", now.Add(-30*time.Second)), now))
	assert.Equal(t, VerdictDuplicate, f.Decide(rec("n1", now.Add(-30*time.Second)), now))
}

func TestFilterHistoryGC(t *testing.T) {
	now := time.Now()
	f := New(DefaultConfig(), nil)

	for i := 0; i < 100; i++ {
		f.ShouldAccept(rec(fmt.Sprintf("n%d", i), now), now)
	}

	// Accepting far past the repeat window sweeps the old entries
	f.ShouldAccept(rec("late", now.Add(time.Minute)), now.Add(time.Minute))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.accepted, 1)
}
