package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/platform/config"
)

// RedisStore persists each user's notifications as a Redis list,
// newest-first, with records stored as JSON.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) key(userID string) string {
	return "notifications:" + userID
}

func (s *RedisStore) Create(ctx context.Context, userID string, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.client.LPush(ctx, s.key(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to push record: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string, limit, skip int, isRead *bool) ([]model.Record, int, error) {
	all, err := s.load(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	var matched []model.Record
	for _, rec := range all {
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
	return matched, total, nil
}

func (s *RedisStore) MarkRead(ctx context.Context, userID, id string) error {
	return s.rewrite(ctx, userID, func(recs []model.Record) []model.Record {
		for i := range recs {
			if recs[i].ID == id {
				recs[i].IsRead = true
				break
			}
		}
		return recs
	})
}

func (s *RedisStore) MarkAllRead(ctx context.Context, userID string) error {
	return s.rewrite(ctx, userID, func(recs []model.Record) []model.Record {
		for i := range recs {
			recs[i].IsRead = true
		}
		return recs
	})
}

func (s *RedisStore) Delete(ctx context.Context, userID, id string) error {
	return s.rewrite(ctx, userID, func(recs []model.Record) []model.Record {
		for i := range recs {
			if recs[i].ID == id {
				return append(recs[:i], recs[i+1:]...)
			}
		}
		return recs
	})
}

func (s *RedisStore) DeleteAll(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

func (s *RedisStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	all, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range all {
		if !rec.IsRead {
			count++
		}
	}
	return count, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, userID string) ([]model.Record, error) {
	vals, err := s.client.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	recs := make([]model.Record, 0, len(vals))
	for _, v := range vals {
		var rec model.Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// rewrite replaces the whole list atomically via a pipeline. Fine for a
// development relay; a production store would use per-record keys.
func (s *RedisStore) rewrite(ctx context.Context, userID string, fn func([]model.Record) []model.Record) error {
	recs, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	recs = fn(recs)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(userID))
	for i := len(recs) - 1; i >= 0; i-- {
		data, err := json.Marshal(recs[i])
		if err != nil {
			continue
		}
		pipe.LPush(ctx, s.key(userID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rewrite notifications: %w", err)
	}
	return nil
}
