package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "password_reset:ratelimit:"

// Fields of the per-identifier hash
const (
	fieldAttemptCount = "attempt_count"
	fieldWindowStart  = "window_start"
	fieldUpdatedAt    = "updated_at"
)

// incrementScript bumps the counter only when the record exists
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
end
local count = redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return count
`)

// RedisRateLimitRepository stores the password reset ledger in Redis hashes.
// Keys expire after the retention period, so DeleteStale has nothing to do.
type RedisRateLimitRepository struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisRateLimitRepository(client *redis.Client, retention time.Duration) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client, retention: retention}
}

func rateLimitKey(identifier string) string {
	return rateLimitKeyPrefix + identifier
}

func (r *RedisRateLimitRepository) Get(ctx context.Context, identifier string) (*models.PasswordResetRateLimit, error) {
	values, err := r.client.HGetAll(ctx, rateLimitKey(identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit: %w", err)
	}
	if len(values) == 0 {
		return nil, models.ErrNotFound
	}

	return parseRateLimitHash(identifier, values)
}

func (r *RedisRateLimitRepository) Create(ctx context.Context, identifier string, windowStart time.Time) (*models.PasswordResetRateLimit, error) {
	key := rateLimitKey(identifier)
	stamp := strconv.FormatInt(windowStart.UnixMilli(), 10)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldAttemptCount, 0)
		pipe.HSetNX(ctx, key, fieldWindowStart, stamp)
		pipe.HSetNX(ctx, key, fieldUpdatedAt, stamp)
		pipe.PExpire(ctx, key, r.retention)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit record: %w", err)
	}

	return r.Get(ctx, identifier)
}

func (r *RedisRateLimitRepository) Increment(ctx context.Context, identifier string, now time.Time) error {
	count, err := incrementScript.Run(ctx, r.client,
		[]string{rateLimitKey(identifier)},
		now.UnixMilli(), r.retention.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count < 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *RedisRateLimitRepository) Reset(ctx context.Context, identifier string, windowStart time.Time) error {
	key := rateLimitKey(identifier)
	stamp := windowStart.UnixMilli()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldAttemptCount, 1,
			fieldWindowStart, stamp,
			fieldUpdatedAt, stamp,
		)
		pipe.PExpire(ctx, key, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

func (r *RedisRateLimitRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func parseRateLimitHash(identifier string, values map[string]string) (*models.PasswordResetRateLimit, error) {
	count, err := strconv.Atoi(values[fieldAttemptCount])
	if err != nil {
		return nil, fmt.Errorf("corrupt attempt count for rate limit: %w", err)
	}
	windowStart, err := strconv.ParseInt(values[fieldWindowStart], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt window start for rate limit: %w", err)
	}
	updatedAt, err := strconv.ParseInt(values[fieldUpdatedAt], 10, 64)
	if err != nil {
		updatedAt = windowStart
	}

	return &models.PasswordResetRateLimit{
		Identifier:   identifier,
		AttemptCount: count,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
		UpdatedAt:    time.UnixMilli(updatedAt).UTC(),
	}, nil
}
