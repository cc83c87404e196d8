package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Stiven-son/calniq-sub001/internal/auth/models"
	platformredis "github.com/Stiven-son/calniq-sub001/internal/platform/redis"
	"github.com/Stiven-son/calniq-sub001/internal/sentinel"
	id "github.com/Stiven-son/calniq-sub001/pkg/domain"
)

const sessionKeyPrefix = "calniq:session:"

// RedisStore persists sessions in Redis with a TTL matching the session
// expiry, so DeleteExpired is a no-op: Redis evicts them itself.
type RedisStore struct {
	client *platformredis.Client
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *platformredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(sessionID id.SessionID) string {
	return sessionKeyPrefix + sessionID.String()
}

func (s *RedisStore) Create(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return fmt.Errorf("session is required")
	}
	return s.write(ctx, sess, true)
}

func (s *RedisStore) Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return fmt.Errorf("session is required")
	}
	return s.write(ctx, sess, false)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID id.SessionID) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: key TTLs handle expiry.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) write(ctx context.Context, sess *models.Session, create bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired: %w", sentinel.ErrExpired)
	}
	key := sessionKey(sess.ID)
	if create {
		ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if !ok {
			return fmt.Errorf("session already exists: %w", sentinel.ErrAlreadyUsed)
		}
		return nil
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
