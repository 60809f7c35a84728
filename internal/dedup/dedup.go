// Package dedup claims inbound webhook message ids so redeliveries from the
// messaging provider are processed once.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "triage:inbound:"
	defaultTTL = 24 * time.Hour
)

// redisAPI is the subset of *redis.Client used here.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper shares claims across instances.
type RedisDeduper struct {
	client redisAPI
	ttl    time.Duration
}

func NewRedisDeduper(client redisAPI, ttl time.Duration) (*RedisDeduper, error) {
	if client == nil {
		return nil, errors.New("dedup: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}, nil
}

// Claim returns true when id was not seen within the TTL.
func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	key, err := claimKey(id)
	if err != nil {
		return false, err
	}
	ok, err := d.client.SetNX(ctx, key, time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: claim %q: %w", id, err)
	}
	return ok, nil
}

// Release drops a claim so the id can be processed again.
func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	key, err := claimKey(id)
	if err != nil {
		return err
	}
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup: release %q: %w", id, err)
	}
	return nil
}

// MemoryDeduper keeps claims in process memory. Suitable for a single
// instance or local runs.
type MemoryDeduper struct {
	cache *cache.Cache
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryDeduper{cache: cache.New(ttl, 10*time.Minute)}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	key, err := claimKey(id)
	if err != nil {
		return false, err
	}
	// Add fails when the key already exists and has not expired.
	if err := d.cache.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	key, err := claimKey(id)
	if err != nil {
		return err
	}
	d.cache.Delete(key)
	return nil
}

func claimKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("dedup: id must not be empty")
	}
	return keyPrefix + id, nil
}
