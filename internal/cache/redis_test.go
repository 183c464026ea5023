package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	p, err := NewRedisProvider(RedisConfig{Addr: server.Addr(), KeyPrefix: "fleetsim:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, server
}

func TestRedisProviderRoundTrip(t *testing.T) {
	p, server := newTestProvider(t)
	ctx := context.Background()

	_, err := p.Get(ctx, "frame")
	require.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, p.Set(ctx, "frame", []byte("tick-1"), time.Minute))
	got, err := p.Get(ctx, "frame")
	require.NoError(t, err)
	assert.Equal(t, "tick-1", string(got))
	assert.True(t, server.Exists("fleetsim:frame"), "keys are prefixed")

	server.FastForward(2 * time.Minute)
	_, err = p.Get(ctx, "frame")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisProviderSetNXAndDel(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "lock", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.SetNX(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Del(ctx, "lock"))
	_, err = p.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestJSONHelpers(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	type summary struct {
		Tick    uint64  `json:"tick"`
		Healthy float64 `json:"healthy"`
	}
	require.NoError(t, SetJSON(ctx, p, "summary", summary{Tick: 7, Healthy: 91.5}, 0))
	got, err := GetJSON[summary](ctx, p, "summary")
	require.NoError(t, err)
	assert.Equal(t, summary{Tick: 7, Healthy: 91.5}, got)

	_, err = GetJSON[summary](ctx, NoopProvider{}, "summary")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisProviderRequiresAddr(t *testing.T) {
	_, err := NewRedisProvider(RedisConfig{})
	require.Error(t, err)

	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	_, err = NewRedisProvider(RedisConfig{Addr: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}
