package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants cluster-wide exclusive runs of a job.
type Locker interface {
	// Acquire returns ok=false when another process holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// releaseScript deletes the lock only if this process still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker builds a redis-backed job lock.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if client == nil {
		panic("scheduler: redis client required")
	}
	if prefix == "" {
		prefix = "scheduler:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token, err := lockToken()
	if err != nil {
		return nil, false, err
	}
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		// On failure the key still expires after ttl.
		_ = releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}
	return release, true, nil
}

func lockToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
