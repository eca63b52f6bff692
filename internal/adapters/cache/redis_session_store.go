package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/media-download-proxy/internal/domain"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

const (
	sessionKeyPrefix = "proxy:session:"
	maxUpdateRetries = 16
)

// RedisSessionStore shares sessions across proxy instances. Update uses an
// optimistic WATCH/MULTI transaction and retries when another writer wins.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

var _ ports.SessionStore = (*RedisSessionStore)(nil)

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var out domain.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &out, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, session domain.Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKeyPrefix+session.ID, raw, ttl).Err()
}

func (s *RedisSessionStore) Insert(ctx context.Context, session domain.Session, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, sessionKeyPrefix+session.ID, raw, ttl).Result()
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKeyPrefix+id).Err()
}

func (s *RedisSessionStore) Update(ctx context.Context, id string, ttl time.Duration, fn func(*domain.Session) error) (domain.Session, error) {
	key := sessionKeyPrefix + id
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var out domain.Session
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return domain.ErrNotFound
				}
				return err
			}
			var session domain.Session
			if err := json.Unmarshal(raw, &session); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			if err := fn(&session); err != nil {
				return err
			}
			payload, err := json.Marshal(session)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, payload, ttl)
				return nil
			})
			if err == nil {
				out = session
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Session{}, err
		}
		return out, nil
	}
	return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrStoreConflict, id)
}
