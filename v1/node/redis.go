package node

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Node on top of a single Redis endpoint.
type Redis struct {
	client  redis.UniversalClient
	name    string
	timeout time.Duration
}

// RedisOption configures a Redis node.
type RedisOption func(*redisOptions)

type redisOptions struct {
	timeout time.Duration
	name    string
}

// WithTimeout bounds every call to the Redis endpoint. A node that does not
// answer within d counts as a failed vote.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.timeout = d
	}
}

// WithName overrides the endpoint description used in logs and metrics.
func WithName(name string) RedisOption {
	return func(o *redisOptions) {
		o.name = name
	}
}

// NewRedis returns a Redis node using the provided client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	o := redisOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = endpointName(client)
	}
	return &Redis{client: client, name: o.name, timeout: o.timeout}
}

func endpointName(client redis.UniversalClient) string {
	if c, ok := client.(*redis.Client); ok {
		return "redis://" + c.Options().Addr
	}
	return "redis"
}

// TrySetWithExpiry implements Node.TrySetWithExpiry using SET NX PX.
func (r *Redis) TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, mapRedisError(err)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := r.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, mapRedisError(err)
	}
	return ok, nil
}

// CompareAndDelete implements Node.CompareAndDelete with a Lua script so the
// read and the delete happen in one round trip.
func (r *Redis) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, mapRedisError(err)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := compareAndDeleteScript.Run(cctx, r.client, []string{key}, value).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, mapRedisError(err)
	}
	return n == 1, nil
}

// String implements Node.String.
func (r *Redis) String() string { return r.name }

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func mapRedisError(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return rlerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return rlerrors.ErrConnectionClosed
	}
	return err
}
