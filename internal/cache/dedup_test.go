package cache

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDeduper(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewLocalDeduper(time.Hour)
	d.now = func() time.Time { return now }

	seen, err := d.Seen(ctx, "1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = d.Seen(ctx, "1")
	assert.True(t, seen)

	seen, _ = d.Seen(ctx, "2")
	assert.False(t, seen)

	now = now.Add(2 * time.Hour)
	seen, _ = d.Seen(ctx, "1")
	assert.False(t, seen, "expired keys are fresh again")
	assert.Equal(t, 1, d.Len(), "sweep dropped the expired key")
}

type failingDeduper struct{}

func (failingDeduper) Seen(context.Context, string) (bool, error) {
	return false, errors.New("down")
}

func TestFallbackDeduper(t *testing.T) {
	ctx := context.Background()
	local := NewLocalDeduper(time.Hour)
	f := NewFallbackDeduper(failingDeduper{}, local)

	seen, err := f.Seen(ctx, "42")
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = f.Seen(ctx, "42")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisDeduperUnreachable(t *testing.T) {
	// Grab a free port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r := NewRedisDeduper(RedisConfig{Addr: addr, TTL: time.Minute, DialTimeout: 200 * time.Millisecond})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = r.Seen(ctx, "1")
	assert.Error(t, err)
	assert.Error(t, r.Ping(ctx))

	f := NewFallbackDeduper(r, NewLocalDeduper(time.Minute))
	seen, err := f.Seen(ctx, "1")
	require.NoError(t, err)
	assert.False(t, seen)
}
