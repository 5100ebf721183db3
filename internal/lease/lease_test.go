package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pair-apr-lab/internal/ingestion"
)

const pair = "0xbc9d21652cca70f54351e3fb982c6b5dbe992a22"

// exerciseLease checks the behavior every Lease implementation shares.
func exerciseLease(t *testing.T, l ingestion.Lease) {
	t.Helper()
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, pair)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, pair)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	otherRelease, ok, err := l.TryAcquire(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
	require.NoError(t, otherRelease(ctx))

	require.NoError(t, release(ctx))

	release, ok, err = l.TryAcquire(ctx, pair)
	require.NoError(t, err)
	assert.True(t, ok, "acquire after release")
	require.NoError(t, release(ctx))
}

func TestLocal(t *testing.T) {
	exerciseLease(t, NewLocal())
}

func TestLocal_ConcurrentAcquire(t *testing.T) {
	l := NewLocal()
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _ := l.TryAcquire(context.Background(), pair)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestLocal_StaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, _, _ := l.TryAcquire(ctx, pair)
	require.NoError(t, first(ctx))
	_, ok, _ := l.TryAcquire(ctx, pair)
	require.True(t, ok)

	// Releasing twice must not free the second holder
	require.NoError(t, first(ctx))
	_, ok, _ = l.TryAcquire(ctx, pair)
	assert.False(t, ok)
}

func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, client.Ping(ctx).Err())

	return client, func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}
}

func TestRedis(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	exerciseLease(t, NewRedis(client))
}

func TestRedis_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()
	ctx := context.Background()

	l := NewRedis(client, WithTTL(100*time.Millisecond), WithPrefix("test:"))
	release, ok, err := l.TryAcquire(ctx, pair)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(200 * time.Millisecond)

	_, ok, err = l.TryAcquire(ctx, pair)
	require.NoError(t, err)
	require.True(t, ok, "expired lease must be acquirable")

	err = release(ctx)
	assert.True(t, errors.Is(err, ErrLeaseLost), "got %v", err)

	exists, err := client.Exists(ctx, "test:"+pair).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "new holder's key must survive")
}
