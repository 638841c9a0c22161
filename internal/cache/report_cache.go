// Package cache keeps computed reports in Redis. Entries are namespaced by a
// generation counter; bumping the counter after any ledger write makes every
// older entry unreachable without scanning for keys.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"kitchenledger/internal/logger"
)

const defaultPrefix = "kitchenledger:report"

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type ReportCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, prefix: defaultPrefix, ttl: ttl}
}

// Get decodes the cached value for key into dst and reports whether there
// was one. The returned generation is the one the lookup ran under; pass it
// to Set so a report computed from pre-write data is never stored under a
// newer generation.
func (c *ReportCache) Get(ctx context.Context, key string, dst any) (int64, bool, error) {
	gen, err := c.generation(ctx, c.client)
	if err != nil {
		return 0, false, err
	}
	raw, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("get report %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return gen, false, fmt.Errorf("decode report %s: %w", key, err)
	}
	return gen, true, nil
}

// Set stores value under generation gen. The write is dropped when the
// generation has moved since gen was read.
func (c *ReportCache) Set(ctx context.Context, gen int64, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", key, err)
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			logger.Debug(ctx).Str("key", key).Int64("generation", gen).Int64("current", current).Msg("stale report dropped")
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.entryKey(gen, key), raw, c.ttl)
			return nil
		})
		return err
	}, c.generationKey())
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("set report %s: %w", key, err)
	}
	return nil
}

func (c *ReportCache) Invalidate(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, c.generationKey()).Result()
	if err != nil {
		return fmt.Errorf("bump report generation: %w", err)
	}
	logger.Debug(ctx).Int64("generation", gen).Msg("report cache invalidated")
	return nil
}

func (c *ReportCache) Close() error {
	return c.client.Close()
}

func (c *ReportCache) generation(ctx context.Context, cmd getter) (int64, error) {
	raw, err := cmd.Get(ctx, c.generationKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get report generation: %w", err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse report generation %q: %w", raw, err)
	}
	return gen, nil
}

func (c *ReportCache) generationKey() string {
	return c.prefix + ":generation"
}

func (c *ReportCache) entryKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, key)
}
