package convlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultLeaseTTL   = 30 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the lease only if this holder still owns it, so an
// expired-and-reacquired lease is never released by the old holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker serializes conversation writers across processes with a leased
// SET NX key. The lease TTL caps how long a crashed holder can block others.
type RedisLocker struct {
	client     redis.UniversalClient
	leaseTTL   time.Duration
	retryDelay time.Duration
	prefix     string
}

var _ Locker = &RedisLocker{}

type RedisOption func(*RedisLocker)

func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.leaseTTL = ttl }
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("convlock: nil redis client")
	}
	l := &RedisLocker{
		client:     client,
		leaseTTL:   defaultLeaseTTL,
		retryDelay: defaultRetryDelay,
		prefix:     "ragline:convlock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("convlock: empty key")
	}
	redisKey := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.leaseTTL).Result()
		if err != nil {
			return nil, errors.Wrap(err, "convlock: setnx")
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.retryDelay):
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "convlock: acquire")
		}
	}
	release := func() {
		// Release must not inherit the (possibly cancelled) acquire context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release conversation lock")
		}
	}
	return release, nil
}
