package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"

	"github.com/rus-connect/filterbench/pkg/common"
)

// ErrCacheMiss is returned by CandleCache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// CandleCache stores fetched candle windows
type CandleCache interface {
	Get(ctx context.Context, key string) ([]common.Candle, error)
	Set(ctx context.Context, key string, candles []common.Candle) error
}

// RedisCache keeps candle windows as JSON under a key prefix with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "filterbench:",
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]common.Candle, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var candles []common.Candle
	if err := sonic.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("decode cached candles: %w", err)
	}
	return candles, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, candles []common.Candle) error {
	data, err := sonic.Marshal(candles)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func klineKey(category, symbol, interval string, startMs, endMs int64) string {
	return fmt.Sprintf("klines:%s:%s:%s:%d:%d", category, symbol, interval, startMs, endMs)
}
