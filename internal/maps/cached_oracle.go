package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridematch/internal/logger"
	"ridematch/internal/observability"
	"ridematch/internal/types"
)

type trafficScorer interface {
	Score(ctx context.Context, origin, destination types.Point) (float64, error)
}

// CachedOracle memoizes traffic scores in Redis. Coordinates are rounded to about
// 100 m so nearby drivers share an entry. Cache faults fall through to the oracle.
type CachedOracle struct {
	next  trafficScorer
	redis *redis.Client
	ttl   time.Duration
	log   logger.ILogger
}

func NewCachedOracle(next trafficScorer, rdb *redis.Client, ttl time.Duration, log logger.ILogger) *CachedOracle {
	return &CachedOracle{next: next, redis: rdb, ttl: ttl, log: log}
}

func (c *CachedOracle) Score(ctx context.Context, origin, destination types.Point) (float64, error) {
	key := trafficKey(origin, destination)

	raw, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		if v, perr := strconv.ParseFloat(raw, 64); perr == nil {
			observability.TrafficCacheHits.WithLabelValues("hit").Inc()
			return v, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warning("traffic cache read failed", logger.String("key", key), logger.Error(err))
	}
	observability.TrafficCacheHits.WithLabelValues("miss").Inc()

	v, err := c.next.Score(ctx, origin, destination)
	if err != nil {
		return 0, err
	}
	if err := c.redis.Set(ctx, key, strconv.FormatFloat(v, 'f', -1, 64), c.ttl).Err(); err != nil {
		c.log.Warning("traffic cache write failed", logger.String("key", key), logger.Error(err))
	}
	return v, nil
}

func trafficKey(origin, destination types.Point) string {
	return fmt.Sprintf("traffic:%.3f,%.3f:%.3f,%.3f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
}
