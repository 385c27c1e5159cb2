package source

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/rus-connect/filterbench/pkg/common"
)

// ClickHouseStore reads and writes 1m candles in the candle_1m table.
type ClickHouseStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func OpenClickHouse(ctx context.Context, dsn string, log zerolog.Logger) (*ClickHouseStore, error) {
	db, err := sqlx.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	// read-only, low concurrency
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouseStore{db: db, log: log.With().Str("store", "clickhouse").Logger()}, nil
}

func (l *ClickHouseStore) Close() error { return l.db.Close() }

func (l *ClickHouseStore) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

func (l *ClickHouseStore) Load(ctx context.Context, q Query) (common.PriceSeries, error) {
	step, err := IntervalDuration(q.Interval)
	if err != nil {
		return nil, err
	}
	query, args := candleQuery("candle_1m FINAL", false, q.Symbol, q.From, q.To)
	var candles []common.Candle
	if err := l.db.SelectContext(ctx, &candles, query, args...); err != nil {
		return nil, fmt.Errorf("select candles for %s: %w", q.Symbol, err)
	}
	l.log.Debug().Str("symbol", q.Symbol).Int("candles", len(candles)).Msg("loaded candles")
	return Normalize(Resample(FromCandles(candles), step), q)
}

func (l *ClickHouseStore) Coverage(ctx context.Context, symbol string) (common.Coverage, error) {
	return coverage(ctx, l.db, "candle_1m", false, symbol)
}

// EnsureSchema creates candle_1m when missing. ReplacingMergeTree collapses
// re-inserted candles on merge; reads use FINAL.
func (l *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS candle_1m (
		symbol String,
		timestamp Int64,
		open Float64,
		high Float64,
		low Float64,
		close Float64,
		volume Float64,
		created_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(created_at)
	PARTITION BY toYYYYMM(toDateTime(timestamp))
	ORDER BY (symbol, timestamp)`)
	if err != nil {
		return fmt.Errorf("create candle_1m: %w", err)
	}
	return nil
}

// Upsert sends candles as a single native batch.
func (l *ClickHouseStore) Upsert(ctx context.Context, candles []common.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candle_1m (symbol, timestamp, open, high, low, close, volume)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append candle %s@%d: %w", c.Symbol, c.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
