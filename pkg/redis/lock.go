package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockScript deletes the key only while it still holds the caller's token,
// so an expired lock taken over by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock takes key for ttl if nobody holds it. The returned token must be
// passed to Unlock.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	c.logger.Debug("lock acquired", zap.String("key", key))
	return token, true, nil
}

// Unlock releases key if it is still held with token.
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, c.Client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	if n == 0 {
		c.logger.Warn("lock already released or taken over", zap.String("key", key))
	}
	return nil
}
