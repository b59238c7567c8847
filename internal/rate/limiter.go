package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds login throttle tuning parameters.
type Config struct {
	Prefix      string
	PerIP       bool
	MaxAttempts int
	Cooldown    time.Duration
}

// Limiter counts failed logins per identifier and optionally per client IP
// in fixed windows stored in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) loginKey(login string) string {
	return l.config.Prefix + ":login:" + strings.ToLower(strings.TrimSpace(login))
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":ip:" + ip
}

func (l *Limiter) keys(login, ip string) []string {
	keys := []string{l.loginKey(login)}
	if l.config.PerIP && ip != "" {
		keys = append(keys, l.ipKey(ip))
	}
	return keys
}

// CheckLogin returns ErrRateLimited when the identifier or IP has used up
// its failure budget for the current window.
func (l *Limiter) CheckLogin(ctx context.Context, login, ip string) error {
	for _, key := range l.keys(login, ip) {
		if err := l.checkCounter(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// IncrementLogin records a failed attempt. It returns ErrRateLimited when
// this failure exhausted the budget.
func (l *Limiter) IncrementLogin(ctx context.Context, login, ip string) error {
	limited := false
	for _, key := range l.keys(login, ip) {
		count, err := l.incrementWithTTL(ctx, key)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login. The IP
// counter is left to expire so one good account cannot unlock an IP.
func (l *Limiter) ResetLogin(ctx context.Context, login string) error {
	if err := l.redis.Del(ctx, l.loginKey(login)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RetryAfter reports how long until the identifier window resets.
func (l *Limiter) RetryAfter(ctx context.Context, login string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.loginKey(login)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Attempts returns the failure count recorded for an identifier.
func (l *Limiter) Attempts(ctx context.Context, login string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginKey(login)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// fixed window: the TTL is set by the first hit only
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
