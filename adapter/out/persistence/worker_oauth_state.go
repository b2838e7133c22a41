package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OAuthStateKey Redis key prefix for OAuth state
const OAuthStateKey = "oauth:state:"

// RedisOAuthStateStore Redis 기반 OAuth state 저장소 (CSRF 보호)
type RedisOAuthStateStore struct {
	client *redis.Client
}

// NewRedisOAuthStateStore 새 Redis OAuth state 저장소 생성
func NewRedisOAuthStateStore(client *redis.Client) *RedisOAuthStateStore {
	return &RedisOAuthStateStore{client: client}
}

// Save stores the state with the owning user id.
func (s *RedisOAuthStateStore) Save(ctx context.Context, state, userID string, ttl time.Duration) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if userID == "" {
		return errors.New("userID cannot be empty")
	}

	if err := s.client.Set(ctx, OAuthStateKey+state, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store OAuth state: %w", err)
	}
	return nil
}

// Consume returns the stored user id and deletes the state (일회용).
func (s *RedisOAuthStateStore) Consume(ctx context.Context, state string) (string, bool, error) {
	if state == "" {
		return "", false, nil
	}

	// GETDEL: 값을 가져오면서 동시에 삭제 (atomic operation, 재사용 방지)
	userID, err := s.client.GetDel(ctx, OAuthStateKey+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to consume OAuth state: %w", err)
	}
	return userID, true, nil
}
