package polls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/polly-app/backend/internal/models"
)

const tallyKeyPrefix = "polls:tally:"

// RedisTallyCache keeps computed tallies in Redis under polls:tally:{poll_id}.
type RedisTallyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTallyCache creates a tally cache; ttl <= 0 defaults to 30s.
func NewRedisTallyCache(client *redis.Client, ttl time.Duration) *RedisTallyCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisTallyCache{client: client, ttl: ttl}
}

func tallyKey(pollID uuid.UUID) string { return tallyKeyPrefix + pollID.String() }

// Get returns the cached tally or nil on a miss.
func (c *RedisTallyCache) Get(ctx context.Context, pollID uuid.UUID) (*models.Tally, error) {
	raw, err := c.client.Get(ctx, tallyKey(pollID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var t models.Tally
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode tally: %w", err)
	}
	return &t, nil
}

// Set stores t with the cache TTL.
func (c *RedisTallyCache) Set(ctx context.Context, t *models.Tally) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tally: %w", err)
	}
	if err := c.client.Set(ctx, tallyKey(t.PollID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate drops the cached tally of a poll.
func (c *RedisTallyCache) Invalidate(ctx context.Context, pollID uuid.UUID) error {
	if err := c.client.Del(ctx, tallyKey(pollID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
