package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableSourceThrottle bool
	MaxPerEmail          int
	MaxPerSource         int
	Window               time.Duration
}

// Limiter enforces per-email and per-source-address budgets for magic-link
// requests using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func emailKey(email string) string {
	return "acr:ml:e:" + email
}

func sourceKey(addr string) string {
	return "acr:ml:s:" + addr
}

// CheckMagicLink charges one request against both the email and the source
// budgets. The email counter is always charged first so an attacker cannot
// burn a victim's budget from many addresses without also tripping the
// source limit.
func (l *Limiter) CheckMagicLink(ctx context.Context, email, sourceAddr string) error {
	count, err := l.incrementWithTTL(ctx, emailKey(email), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxPerEmail) {
		return ErrRateLimited
	}

	if l.config.EnableSourceThrottle && sourceAddr != "" {
		count, err = l.incrementWithTTL(ctx, sourceKey(sourceAddr), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxPerSource) {
			return ErrRateLimited
		}
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
