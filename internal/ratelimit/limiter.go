// Package ratelimit implements fixed-window request counters in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foliodesk/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "foliodesk:rl"

var (
	ErrRedisUnavailable = errors.New("redis unavailable")
	ErrInvalidConfig    = errors.New("invalid rate limit config")
)

type Config struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// ParseConfig converts the raw environment values, applying defaults of
// 20 requests per 15 minutes.
func ParseConfig(raw config.RateLimitConfig) (Config, error) {
	cfg := Config{Enabled: true, Limit: 20, Window: 15 * time.Minute}

	if v := strings.TrimSpace(raw.Enabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: RATE_LIMIT_ENABLED", ErrInvalidConfig)
		}
		cfg.Enabled = enabled
	}
	if v := strings.TrimSpace(raw.Limit); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return Config{}, fmt.Errorf("%w: RATE_LIMIT_MAX", ErrInvalidConfig)
		}
		cfg.Limit = limit
	}
	if v := strings.TrimSpace(raw.Window); v != "" {
		window, err := time.ParseDuration(v)
		if err != nil || window <= 0 {
			return Config{}, fmt.Errorf("%w: RATE_LIMIT_WINDOW", ErrInvalidConfig)
		}
		cfg.Window = window
	}
	return cfg, nil
}

// Decision is the outcome of one counted hit.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: client, config: cfg}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Enabled && l.redis != nil
}

// Hit counts one request for scope and identifier. The window starts at
// the first hit and is not extended by later ones.
func (l *Limiter) Hit(ctx context.Context, scope, id string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	key := counterKey(scope, id)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	limit := int64(l.config.Limit)
	if count <= limit {
		return Decision{Allowed: true, Remaining: int(limit - count)}, nil
	}

	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = l.config.Window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

// Reset drops the counter for scope and identifier.
func (l *Limiter) Reset(ctx context.Context, scope, id string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, counterKey(scope, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func counterKey(scope, id string) string {
	return keyPrefix + ":" + scope + ":" + id
}
