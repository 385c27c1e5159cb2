package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/metrics"
)

const candleStep = time.Minute

type klineFetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]common.Candle, error)
}

type candleStore interface {
	Upsert(ctx context.Context, candles []common.Candle) error
}

type publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaProducerWrapper wraps kafka.Writer for easier use.
type KafkaProducerWrapper struct {
	writer *kafka.Writer
}

func NewKafkaProducerWrapper(brokers []string, topic string) *KafkaProducerWrapper {
	return &KafkaProducerWrapper{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

func (p *KafkaProducerWrapper) Publish(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

func (p *KafkaProducerWrapper) Close() error {
	return p.writer.Close()
}

// Collector polls closed 1m candles for a fixed symbol list and writes them
// to every configured store. Publishing to Kafka is optional.
type Collector struct {
	fetcher  klineFetcher
	stores   map[string]candleStore
	pub      publisher
	breaker  *CircuitBreaker
	symbols  []string
	lookback int
	retries  int
	now      func() time.Time
	log      zerolog.Logger
}

// Run polls once immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n := c.Poll(ctx)
		c.log.Debug().Int("candles", n).Msg("poll done")
		select {
		case <-ctx.Done():
			c.log.Info().Msg("collector stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches the last lookback closed candles of each symbol and returns
// how many were stored.
func (c *Collector) Poll(ctx context.Context) int {
	stored := 0
	for _, symbol := range c.symbols {
		if ctx.Err() != nil {
			return stored
		}
		if !c.breaker.Allow() {
			c.log.Debug().Str("symbol", symbol).Msg("circuit open, skipping")
			continue
		}
		candles, err := c.fetchClosed(ctx, symbol)
		if err != nil {
			c.breaker.Fail()
			metrics.CollectorErrorsTotal.WithLabelValues("fetch").Inc()
			c.log.Error().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
			continue
		}
		c.breaker.Success()
		if len(candles) == 0 {
			continue
		}

		ok := true
		for name, store := range c.stores {
			if err := store.Upsert(ctx, candles); err != nil {
				ok = false
				metrics.CollectorErrorsTotal.WithLabelValues("store").Inc()
				c.log.Error().Err(err).Str("symbol", symbol).Str("store", name).Msg("failed to save candles")
				continue
			}
			metrics.CandlesStoredTotal.WithLabelValues(name).Add(float64(len(candles)))
		}
		if ok {
			stored += len(candles)
		}

		if c.pub != nil {
			for _, candle := range candles {
				if err := c.publishWithRetry(ctx, candle); err != nil {
					metrics.CollectorErrorsTotal.WithLabelValues("publish").Inc()
					c.log.Error().Err(err).Str("symbol", symbol).Msg("failed to publish candle")
				}
			}
		}
		c.log.Info().Str("symbol", symbol).Int("candles", len(candles)).Msg("saved candles")
	}
	return stored
}

// fetchClosed drops the candle still forming at the time of the call.
func (c *Collector) fetchClosed(ctx context.Context, symbol string) ([]common.Candle, error) {
	now := c.now()
	start := now.Add(-time.Duration(c.lookback+1) * candleStep)
	candles, err := c.fetcher.FetchKlines(ctx, symbol, "1", start.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	closed := candles[:0]
	for _, candle := range candles {
		if time.Unix(candle.Timestamp, 0).Add(candleStep).After(now) {
			continue
		}
		closed = append(closed, candle)
	}
	return closed, nil
}

// publishWithRetry publishes with exponential backoff: 100ms, 200ms, 400ms, ...
func (c *Collector) publishWithRetry(ctx context.Context, candle common.Candle) error {
	value, err := sonic.Marshal(candle)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}
	retries := c.retries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		err = c.pub.Publish(ctx, []byte(candle.Symbol), value)
		if err == nil {
			return nil
		}
		if attempt < retries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			c.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("publish failed, retrying")
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("publish after %d attempts: %w", retries, err)
}
