package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pair-apr-lab/internal/ingestion"
)

// Default configuration values.
const (
	DefaultTTL    = 5 * time.Minute
	DefaultPrefix = "pair-apr-lab:lease:"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLeaseLost is returned by release when the lease expired before release.
var ErrLeaseLost = errors.New("lease expired before release")

// Redis is a lease shared by every scheduler connected to the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Compile-time interface check.
var _ ingestion.Lease = (*Redis)(nil)

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithTTL sets how long a lease lives if its holder dies without releasing.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) RedisOption {
	return func(r *Redis) {
		r.prefix = p
	}
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr string, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, opts...), nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// TryAcquire sets the lease key with NX and a TTL.
func (r *Redis) TryAcquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("redis release %s: %w", fullKey, err)
		}
		if n == 0 {
			return ErrLeaseLost
		}
		return nil
	}
	return release, true, nil
}
