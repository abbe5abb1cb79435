package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 10 * time.Minute

// CachedStore keeps terminal jobs in redis. Pending jobs are never cached
// because the callback can finish them at any moment.
type CachedStore struct {
	Store
	cache  *redis.Client
	logger *zap.Logger
}

func NewCachedStore(store Store, cache *redis.Client, logger *zap.Logger) *CachedStore {
	return &CachedStore{Store: store, cache: cache, logger: logger}
}

func cacheKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func (c *CachedStore) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := c.cache.Get(ctx, cacheKey(id)).Scan(&j)
	if err == nil {
		return &j, nil
	} else if err != redis.Nil {
		c.logger.Warn("job cache read failed", zap.String("job_id", id), zap.Error(err))
	}

	job, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		if err := c.cache.Set(ctx, cacheKey(id), job, cacheTTL).Err(); err != nil {
			c.logger.Warn("job cache write failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return job, nil
}
