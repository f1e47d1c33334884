package attemptstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordCountReset(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	n, err := s.Count(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := 1; want <= 3; want++ {
		got, err := s.Record(ctx, "10.0.0.5")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	n, err = s.Count(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	other, err := s.Count(ctx, "10.0.0.6")
	require.NoError(t, err)
	assert.Zero(t, other, "hosts are counted independently")

	require.NoError(t, s.Reset(ctx, "10.0.0.5"))
	n, err = s.Count(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.Len())
}

func TestMemoryStore_expires(t *testing.T) {
	s := NewMemoryStore(30 * time.Millisecond)
	ctx := context.Background()

	_, err := s.Record(ctx, "host")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := s.Count(ctx, "host")
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_concurrentRecord(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = s.Record(ctx, "host")
		}()
	}
	wg.Wait()

	got, err := s.Count(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestMemoryStore_cancelledContext(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Record(ctx, "host")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Count(ctx, "host")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Reset(ctx, "host"), context.Canceled)
}

func TestNewRedisStore_defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	defer client.Close()

	s := NewRedisStore(client, "", 0)
	assert.Equal(t, DefaultRedisPrefix+"10.1.1.1", s.key("10.1.1.1"))
	assert.Equal(t, DefaultWindow, s.window)

	s = NewRedisStore(client, "test:", time.Second)
	assert.Equal(t, "test:h", s.key("h"))
}

func TestRedisStore_unreachableBackend(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := NewRedisStore(client, "", time.Minute)
	ctx := context.Background()

	_, err := s.Record(ctx, "host")
	assert.Error(t, err)
	_, err = s.Count(ctx, "host")
	assert.Error(t, err)
	assert.Error(t, s.Reset(ctx, "host"))
}
