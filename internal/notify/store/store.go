// Package store holds the authoritative client-side collection of
// notification records and its derived unread count.
package store

import (
	"sync"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
)

// Page is a fetched page of records plus pagination metadata
type Page struct {
	Records    []model.Record
	HasMore    bool
	TotalCount int
}

// Store reconciles fetched pages with live pushes. Records are unique by
// id; push-delivered records are prepended, fetched pages appended, so
// ordering is newest-first by arrival rather than strictly by timestamp.
type Store struct {
	mu      sync.RWMutex
	records []model.Record
	index   map[string]int
	unread  int
	skip    int
	hasMore bool
	metrics *metrics.Metrics
}

// New creates an empty store
func New(m *metrics.Metrics) *Store {
	return &Store{
		index:   make(map[string]int),
		hasMore: true,
		metrics: m,
	}
}

// Hydrate merges a fetched page into the collection, skipping records whose
// id already exists, and advances the fetch offset.
func (s *Store) Hydrate(page Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range page.Records {
		rec := page.Records[i]
		if _, ok := s.index[rec.ID]; ok {
			continue
		}
		s.index[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
	}

	s.skip += len(page.Records)
	s.hasMore = page.HasMore
	s.recompute()
}

// IngestPush prepends a push-delivered record; a duplicate id is a no-op.
// The unread count is bumped optimistically and immediately reconciled by
// the full recompute.
func (s *Store) IngestPush(rec model.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rec.ID]; ok {
		return false
	}

	s.records = append([]model.Record{rec}, s.records...)
	if !rec.IsRead {
		s.unread++
	}
	s.reindex()
	s.recompute()
	return true
}

// MarkRead flips the record to read; a second call is a no-op
func (s *Store) MarkRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[id]; ok {
		s.records[i].IsRead = true
	}
	s.recompute()
}

// MarkAllRead flips every record to read
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		s.records[i].IsRead = true
	}
	s.recompute()
}

// Remove deletes the record with the given id if present
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	s.reindex()
	s.recompute()
}

// RemoveAll clears the collection and resets pagination
func (s *Store) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.index = make(map[string]int)
	s.skip = 0
	s.hasMore = true
	s.recompute()
}

// UnreadCount returns the derived unread count
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Records returns a copy of the collection in store order
func (s *Store) Records() []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with the given id
func (s *Store) Get(id string) (model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i, ok := s.index[id]; ok {
		return s.records[i], true
	}
	return model.Record{}, false
}

// Len returns the number of records in the store
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// NextSkip returns the fetch offset for the next page
func (s *Store) NextSkip() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skip
}

// HasMore reports whether the server has more pages to fetch
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

// reindex rebuilds the id index; called with the lock held
func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i := range s.records {
		s.index[s.records[i].ID] = i
	}
}

// recompute refreshes the unread count from the record set so it can never
// drift; called with the lock held.
func (s *Store) recompute() {
	unread := 0
	for i := range s.records {
		if !s.records[i].IsRead {
			unread++
		}
	}
	s.unread = unread

	if s.metrics != nil {
		s.metrics.StoreSize.Set(float64(len(s.records)))
		s.metrics.UnreadCount.Set(float64(unread))
	}
}
