package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
)

// Connect initializes a Redis client from URL or host:port input
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// redisClient is the subset of *redis.Client the backend uses
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisBackend stores entries as JSON values whose key TTL is the entry's
// remaining lifetime, so Redis expires them on its own
type RedisBackend struct {
	client redisClient
	now    func() time.Time
}

// NewRedisBackend wraps a connected client
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return newRedisBackend(client)
}

func newRedisBackend(client redisClient) *RedisBackend {
	return &RedisBackend{client: client, now: time.Now}
}

func (b *RedisBackend) Save(ctx context.Context, entry model.CacheEntry, ttl time.Duration) error {
	remaining := entry.CreatedAt.Add(ttl).Sub(b.now())
	if remaining <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, Key(entry.Fingerprint), raw, remaining).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, fp model.Fingerprint) error {
	return b.client.Del(ctx, Key(fp)).Err()
}

// LoadAll scans the key prefix and decodes each value. Keys that vanish
// between SCAN and GET are skipped.
func (b *RedisBackend) LoadAll(ctx context.Context) ([]model.CacheEntry, error) {
	keys, err := b.scan(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.CacheEntry
	for _, key := range keys {
		raw, err := b.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return out, err
		}
		var entry model.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	keys, err := b.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := b.client.Scan(ctx, cursor, KeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan cache keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
