package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps estimated tokens per minute per API key, wrapping
// github.com/vnmchuo/ratelimiter with a Redis store.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, tokensPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(tokensPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

// Allow reserves the estimated token budget for one request.
func (l *Limiter) Allow(ctx context.Context, keyID string, estimatedTokens int64) (bool, error) {
	key := fmt.Sprintf("ratelimit:key:%s", keyID)
	res, err := l.store.AllowN(ctx, key, int(estimatedTokens))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Status reports the remaining budget for a key.
func (l *Limiter) Status(ctx context.Context, keyID string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:key:%s", keyID)
	return l.store.Status(ctx, key)
}
