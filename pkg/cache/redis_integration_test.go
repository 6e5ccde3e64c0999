//go:build integration

package cache_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/cache"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

type redisTestValue struct {
	ID   string
	Data []byte
}

func startRedisContainer(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-bookworm",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return net.JoinHostPort(host, port.Port())
}

func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	addr := startRedisContainer(t, ctx)
	clock := clockwork.NewFakeClockAt(time.Now())

	s, err := cache.NewRedisStore[redisTestValue](ctx, &cache.RedisConfig{Addr: addr, Prefix: "test"}, clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	value := redisTestValue{ID: "test-id", Data: []byte("hello world")}

	t.Run("Set and TryGet", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k1", value, testPolicy))

		retrieved, ok, err := s.TryGet(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value, retrieved)
	})

	t.Run("TryGet miss", func(t *testing.T) {
		_, ok, err := s.TryGet(ctx, "non-existent-key")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Replace keeps the absolute deadline", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k2", value, testPolicy))
		for i := 0; i < 2; i++ {
			clock.Advance(90 * time.Second)
			_, ok, err := s.TryGet(ctx, "k2")
			require.NoError(t, err)
			require.True(t, ok)
		}

		clock.Advance(time.Minute)
		replaced, err := s.Replace(ctx, "k2", redisTestValue{ID: "second"})
		require.NoError(t, err)
		require.True(t, replaced)

		clock.Advance(59 * time.Second)
		got, ok, err := s.TryGet(ctx, "k2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", got.ID)

		clock.Advance(2 * time.Second)
		_, ok, err = s.TryGet(ctx, "k2")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sliding deadline elapses", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k3", value, testPolicy))
		clock.Advance(2*time.Minute + time.Second)

		_, ok, err := s.TryGet(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k4", value, testPolicy))
		require.NoError(t, s.Remove(ctx, "k4"))
		require.NoError(t, s.Remove(ctx, "k4"))

		_, ok, err := s.TryGet(ctx, "k4")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisStore_ConcurrentReadsKeepReplacedValues(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	addr := startRedisContainer(t, ctx)
	s, err := cache.NewRedisStore[[]int](ctx, &cache.RedisConfig{Addr: addr}, clockwork.NewRealClock(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set(ctx, "collection", []int{}, testPolicy))

	const appends = 300
	done := make(chan struct{})
	var readers errgroup.Group
	for i := 0; i < 8; i++ {
		readers.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				default:
				}
				if _, _, err := s.TryGet(ctx, "collection"); err != nil {
					return err
				}
			}
		})
	}

	// Replace is driven by one writer, as the manager serializes mutations.
	want := make([]int, 0, appends)
	for i := 0; i < appends; i++ {
		want = append(want, i)
		replaced, err := s.Replace(ctx, "collection", want)
		require.NoError(t, err)
		require.True(t, replaced)
	}
	close(done)
	require.NoError(t, readers.Wait())

	got, ok, err := s.TryGet(ctx, "collection")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
