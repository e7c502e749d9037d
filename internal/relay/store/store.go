// Package store persists the relay's per-user notification lists, either
// in memory or on Redis.
package store

import (
	"context"
	"sync"

	"github.com/huddleup/huddle-notify/internal/notify/model"
)

// NotificationStore is the relay's persistence interface
type NotificationStore interface {
	Create(ctx context.Context, userID string, rec model.Record) error
	// List returns records newest-first with pagination and an optional
	// read-status filter, plus the total count matching the filter.
	List(ctx context.Context, userID string, limit, skip int, isRead *bool) ([]model.Record, int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// MemoryStore keeps notifications in process memory; the default backing
// for local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]model.Record // userID -> newest-first
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]model.Record)}
}

func (s *MemoryStore) Create(ctx context.Context, userID string, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = append([]model.Record{rec}, s.records[userID]...)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, limit, skip int, isRead *bool) ([]model.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Record
	for _, rec := range s.records[userID] {
		if isRead != nil && rec.IsRead != *isRead {
			continue
		}
		matched = append(matched, rec)
	}

	total := len(matched)
	if skip >= total {
		return nil, total, nil
	}
	matched = matched[skip:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]model.Record, len(matched))
	copy(out, matched)
	return out, total, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records[userID] {
		if s.records[userID][i].ID == id {
			s.records[userID][i].IsRead = true
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records[userID] {
		s.records[userID][i].IsRead = true
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[userID]
	for i := range recs {
		if recs[i].ID == id {
			s.records[userID] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.records[userID] {
		if !rec.IsRead {
			count++
		}
	}
	return count, nil
}
