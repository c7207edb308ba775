package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another owner is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-key mutual exclusion lock built on SET NX PX.
// It guards work that must not overlap across processes, such as a renewal pass.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker. Keys are stored as prefix+key.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock attempts to take key for ttl without blocking. It returns a release
// func and true on success, or false when another owner holds the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
