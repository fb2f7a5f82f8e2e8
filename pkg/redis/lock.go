package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a best-effort distributed mutex held by one process at a time.
type Lock struct {
	key   string
	token string
}

// TryLock acquires key for ttl. ok is false when someone else holds it.
func TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.NewString()
	ok, err := SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lock{key: key, token: token}, true, nil
}

// Release frees the lock if it has not expired and been taken over.
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, client, []string{l.key}, l.token).Err()
}

// Key returns the locked key.
func (l *Lock) Key() string {
	return l.key
}
