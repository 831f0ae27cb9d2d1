package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ContextCache holds resolved token contexts so repeated loads of the same
// form link skip the invite lookup. Misses and cache failures are equivalent
// to callers; the repository stays authoritative.
type ContextCache interface {
	Get(ctx context.Context, inviteID string) (*TokenContext, error)
	Set(ctx context.Context, inviteID string, tc *TokenContext) error
	Invalidate(ctx context.Context, inviteID string) error
}

// RedisContextCache caches token contexts in Redis with a bounded TTL.
type RedisContextCache struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisContextCache builds a cache around the provided client.
func NewRedisContextCache(client *redis.Client, ttl time.Duration) *RedisContextCache {
	if client == nil {
		panic("intake: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisContextCache{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("careprep.internal.intake.cache"),
	}
}

var _ ContextCache = (*RedisContextCache)(nil)

// Get returns the cached context, or nil on a miss.
func (c *RedisContextCache) Get(ctx context.Context, inviteID string) (*TokenContext, error) {
	ctx, span := c.tracer.Start(ctx, "intake.cache_get")
	defer span.End()

	data, err := c.redis.Get(ctx, contextKey(inviteID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("intake: cache read failed: %w", err)
	}

	var tc TokenContext
	if err := json.Unmarshal(data, &tc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("intake: cache decode failed: %w", err)
	}
	return &tc, nil
}

// Set stores the resolved context for the cache TTL.
func (c *RedisContextCache) Set(ctx context.Context, inviteID string, tc *TokenContext) error {
	ctx, span := c.tracer.Start(ctx, "intake.cache_set")
	defer span.End()

	data, err := json.Marshal(tc)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: cache encode failed: %w", err)
	}
	if err := c.redis.Set(ctx, contextKey(inviteID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: cache write failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached context, used when an invite is revoked.
func (c *RedisContextCache) Invalidate(ctx context.Context, inviteID string) error {
	ctx, span := c.tracer.Start(ctx, "intake.cache_invalidate")
	defer span.End()

	if err := c.redis.Del(ctx, contextKey(inviteID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("intake: cache invalidate failed: %w", err)
	}
	return nil
}

func contextKey(inviteID string) string {
	return fmt.Sprintf("careprep:ctx:%s", inviteID)
}
