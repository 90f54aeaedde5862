package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises role updates for a single user.
type Locker interface {
	// Lock acquires the lock for userID. The returned func releases it.
	Lock(ctx context.Context, userID int64) (func(), error)
}

// UserRolesLockKey builds the redis key guarding role updates for a user.
func UserRolesLockKey(userID int64) string {
	return fmt.Sprintf("rbac:user:%d:roles:lock", userID)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. It never waits: a held lock
// yields ErrConcurrentUpdate.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a RedisLocker. The ttl bounds how long a crashed
// holder can block other updates.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	key := UserRolesLockKey(userID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("rbac: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentUpdate
	}
	return func() {
		// Release must run even if the request context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, int64) (func(), error) {
	return func() {}, nil
}
