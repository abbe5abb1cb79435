package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the period SUBMIT_RATE_LIMIT is counted over.
const Window = time.Minute

// Limiter caps generation submissions per user. It wraps
// github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, perMinute int) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(perMinute),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(userID string) string {
	return fmt.Sprintf("ratelimit:submit:%s", userID)
}

// Allow consumes one submission for userID.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	res, err := l.store.Allow(ctx, key(userID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
