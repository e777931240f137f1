package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "roomhub:"

// RedisSanctions keeps sanctions in redis so they survive restarts.
// Timeouts are keys with a TTL; bans have none.
type RedisSanctions struct {
	client *redis.Client
}

// NewRedisSanctions connects to redisURL and checks the connection.
func NewRedisSanctions(ctx context.Context, redisURL string) (*RedisSanctions, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisSanctions{client: client}, nil
}

// NewRedisSanctionsFromClient wraps an existing client.
func NewRedisSanctionsFromClient(client *redis.Client) *RedisSanctions {
	return &RedisSanctions{client: client}
}

// Close closes the redis connection.
func (s *RedisSanctions) Close() error {
	return s.client.Close()
}

// Ping checks the redis connection.
func (s *RedisSanctions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func timeoutKey(roomID, userID int64) string {
	return fmt.Sprintf("%stimeout:%d:%d", keyPrefix, roomID, userID)
}

func banKey(roomID, userID int64) string {
	return fmt.Sprintf("%sban:%d:%d", keyPrefix, roomID, userID)
}

func (s *RedisSanctions) Timeout(ctx context.Context, roomID, userID int64, d time.Duration) error {
	return s.client.Set(ctx, timeoutKey(roomID, userID), 1, d).Err()
}

func (s *RedisSanctions) Ban(ctx context.Context, roomID, userID int64) error {
	return s.client.Set(ctx, banKey(roomID, userID), 1, 0).Err()
}

func (s *RedisSanctions) Clear(ctx context.Context, roomID, userID int64) error {
	return s.client.Del(ctx, timeoutKey(roomID, userID), banKey(roomID, userID)).Err()
}

func (s *RedisSanctions) TimedOut(ctx context.Context, roomID, userID int64) (bool, error) {
	return s.exists(ctx, timeoutKey(roomID, userID))
}

func (s *RedisSanctions) Banned(ctx context.Context, roomID, userID int64) (bool, error) {
	return s.exists(ctx, banKey(roomID, userID))
}

func (s *RedisSanctions) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ Sanctions = (*RedisSanctions)(nil)
