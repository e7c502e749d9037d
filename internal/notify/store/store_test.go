package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleup/huddle-notify/internal/notify/model"
)

func rec(id string, read bool) model.Record {
	return model.Record{
		ID:        id,
		Kind:      model.KindReaction,
		Content:   "content " + id,
		IsRead:    read,
		CreatedAt: time.Now(),
	}
}

func page(hasMore bool, recs ...model.Record) Page {
	return Page{Records: recs, HasMore: hasMore, TotalCount: len(recs)}
}

func TestStoreHydrate(t *testing.T) {
	s := New(nil)

	s.Hydrate(page(true, rec("n1", false), rec("n2", true)))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, 2, s.NextSkip())
	assert.True(t, s.HasMore())
}

func TestStoreHydrateSkipsDuplicateIDs(t *testing.T) {
	s := New(nil)

	s.Hydrate(page(true, rec("n1", false), rec("n2", false)))
	s.Hydrate(page(false, rec("n2", false), rec("n3", false)))

	assert.Equal(t, 3, s.Len())
	// The offset advances by the page size regardless of dedup so the next
	// fetch does not re-request the overlapping records.
	assert.Equal(t, 4, s.NextSkip())
	assert.False(t, s.HasMore())

	ids := make([]string, 0, 3)
	for _, r := range s.Records() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids)
}

func TestStoreIngestPushPrepends(t *testing.T) {
	s := New(nil)
	s.Hydrate(page(false, rec("n1", true)))

	ok := s.IngestPush(rec("n2", false))
	assert.True(t, ok)

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "n2", records[0].ID)
	assert.Equal(t, "n1", records[1].ID)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreIngestPushDuplicateIsNoOp(t *testing.T) {
	s := New(nil)

	assert.True(t, s.IngestPush(rec("n1", false)))
	assert.False(t, s.IngestPush(rec("n1", false)))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreHydrateThenPushSameID(t *testing.T) {
	s := New(nil)

	s.Hydrate(page(false, rec("x", false)))
	assert.False(t, s.IngestPush(rec("x", false)))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreMarkRead(t *testing.T) {
	s := New(nil)
	s.Hydrate(page(false, rec("n1", false), rec("n2", false)))

	s.MarkRead("n1")
	assert.Equal(t, 1, s.UnreadCount())

	got, ok := s.Get("n1")
	require.True(t, ok)
	assert.True(t, got.IsRead)

	// Second call is a no-op
	s.MarkRead("n1")
	assert.Equal(t, 1, s.UnreadCount())

	// Unknown id is a no-op
	s.MarkRead("missing")
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreMarkAllRead(t *testing.T) {
	s := New(nil)
	s.Hydrate(page(false, rec("n1", false), rec("n2", false), rec("n3", true)))

	s.MarkAllRead()

	assert.Equal(t, 0, s.UnreadCount())
	for _, r := range s.Records() {
		assert.True(t, r.IsRead)
	}
}

func TestStoreRemove(t *testing.T) {
	s := New(nil)
	s.Hydrate(page(false, rec("n1", false), rec("n2", false), rec("n3", false)))

	s.Remove("n2")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.UnreadCount())
	_, ok := s.Get("n2")
	assert.False(t, ok)

	// Index stays consistent after the middle removal
	got, ok := s.Get("n3")
	require.True(t, ok)
	assert.Equal(t, "n3", got.ID)

	s.Remove("missing")
	assert.Equal(t, 2, s.Len())
}

func TestStoreRemoveAllResetsPagination(t *testing.T) {
	s := New(nil)
	s.Hydrate(page(false, rec("n1", false), rec("n2", true)))

	s.RemoveAll()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, 0, s.NextSkip())
	assert.True(t, s.HasMore())
}

func TestStoreUnreadAlwaysDerivable(t *testing.T) {
	s := New(nil)

	for i := 0; i < 10; i++ {
		s.IngestPush(rec(fmt.Sprintf("n%d", i), i%2 == 0))
	}

	// The derived count always matches a recount of the records
	expected := 0
	for _, r := range s.Records() {
		if !r.IsRead {
			expected++
		}
	}
	assert.Equal(t, expected, s.UnreadCount())

	s.MarkRead("n1")
	s.Remove("n3")
	s.MarkAllRead()
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStoreRecordsReturnsCopy(t *testing.T) {
	s := New(nil)
	s.Hydrate(page(false, rec("n1", false)))

	records := s.Records()
	records[0].IsRead = true

	got, ok := s.Get("n1")
	require.True(t, ok)
	assert.False(t, got.IsRead)
}
