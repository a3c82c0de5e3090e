package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds our token, so a lease that
// expired and was taken by another replica is left alone.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockerUnavailable = errors.New("lock client not configured")

// Locker hands out short Redis leases so one replica at a time runs a
// scheduler job.
type Locker struct {
	client *redis.Client
	unlock *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, unlock: redis.NewScript(unlockScript)}
}

// WithLock runs fn only when key could be acquired and reports whether fn
// ran. The lease is released on return even when ctx is already done.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if l == nil || l.client == nil {
		return false, ErrLockerUnavailable
	}
	if key == "" || ttl <= 0 {
		return false, errors.New("lock requires a key and a positive ttl")
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !acquired {
		return false, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.unlock.Run(releaseCtx, l.client, []string{key}, token).Err()
	}()
	return true, fn(ctx)
}
