package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// FrequencyLimiter caps sends per recipient per rolling period.
type FrequencyLimiter interface {
	Allow(ctx context.Context, campaignID uuid.UUID, recipientID string, limit int) (bool, error)
}

// RedisFrequencyLimiter enforces the cap with a Redis counter that expires
// at the end of each period.
type RedisFrequencyLimiter struct {
	client *redis.Client
	period time.Duration
}

// NewRedisFrequencyLimiter constructs a frequency limiter.
func NewRedisFrequencyLimiter(client *redis.Client, period time.Duration) *RedisFrequencyLimiter {
	if period <= 0 {
		period = 24 * time.Hour
	}
	return &RedisFrequencyLimiter{client: client, period: period}
}

// Allow reserves one send for the (campaign, recipient) pair if the
// per-period cap has not been reached.
func (l *RedisFrequencyLimiter) Allow(ctx context.Context, campaignID uuid.UUID, recipientID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if current == 1 and ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

	key := l.key(campaignID, recipientID)
	res, err := script.Run(ctx, l.client, []string{key}, limit, l.period.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("frequency allow: %w", err)
	}
	return res == 1, nil
}

func (l *RedisFrequencyLimiter) key(campaignID uuid.UUID, recipientID string) string {
	return fmt.Sprintf("autodm:campaign:%s:recipient:%s:sends", campaignID.String(), recipientID)
}
