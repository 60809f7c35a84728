package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	keys    map[string]bool
	setErr  error
	delErr  error
	lastTTL time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]bool{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, expiration time.Duration) *redis.BoolCmd {
	f.lastTTL = expiration
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.delErr != nil {
		return redis.NewIntResult(0, f.delErr)
	}
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisDeduper_ClaimOnce(t *testing.T) {
	r := newFakeRedis()
	d, err := NewRedisDeduper(r, 0)
	require.NoError(t, err)

	ok, err := d.Claim(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, defaultTTL, r.lastTTL)
	require.True(t, r.keys["triage:inbound:wamid.1"])

	ok, err = d.Claim(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.Release(context.Background(), "wamid.1"))
	ok, err = d.Claim(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisDeduper_Errors(t *testing.T) {
	_, err := NewRedisDeduper(nil, time.Minute)
	require.Error(t, err)

	r := newFakeRedis()
	r.setErr = errors.New("connection refused")
	r.delErr = errors.New("connection refused")
	d, err := NewRedisDeduper(r, time.Minute)
	require.NoError(t, err)

	_, err = d.Claim(context.Background(), "wamid.1")
	require.ErrorContains(t, err, "connection refused")
	require.ErrorContains(t, d.Release(context.Background(), "wamid.1"), "connection refused")

	_, err = d.Claim(context.Background(), " ")
	require.ErrorContains(t, err, "must not be empty")
}

func TestMemoryDeduper_ClaimOnce(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)

	ok, err := d.Claim(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Claim(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = d.Claim(context.Background(), "wamid.2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.Release(context.Background(), "wamid.1"))
	ok, err = d.Claim(context.Background(), "wamid.1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = d.Claim(context.Background(), "")
	require.Error(t, err)
}
