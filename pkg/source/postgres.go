package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/rus-connect/filterbench/pkg/common"
)

const candleCacheSchema = `
CREATE TABLE IF NOT EXISTS candle_cache (
	symbol    TEXT             NOT NULL,
	timestamp BIGINT           NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	volume    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, timestamp)
)`

// PostgresStore reads and writes 1m candles in the candle_cache table.
type PostgresStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// OpenPostgres connects and pings. The caller owns Close.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db, log), nil
}

func NewPostgresStore(db *sqlx.DB, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log.With().Str("store", "postgres").Logger()}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates candle_cache if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, candleCacheSchema); err != nil {
		return fmt.Errorf("create candle_cache: %w", err)
	}
	return nil
}

// Candles returns stored candles for symbol in [from, to], oldest first.
func (s *PostgresStore) Candles(ctx context.Context, symbol string, from, to time.Time) ([]common.Candle, error) {
	query, args := candleQuery("candle_cache", true, symbol, from, to)
	var candles []common.Candle
	if err := s.db.SelectContext(ctx, &candles, query, args...); err != nil {
		return nil, fmt.Errorf("select candles for %s: %w", symbol, err)
	}
	return candles, nil
}

func (s *PostgresStore) Load(ctx context.Context, q Query) (common.PriceSeries, error) {
	step, err := IntervalDuration(q.Interval)
	if err != nil {
		return nil, err
	}
	candles, err := s.Candles(ctx, q.Symbol, q.From, q.To)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("symbol", q.Symbol).Int("candles", len(candles)).Msg("loaded candles")
	return Normalize(Resample(FromCandles(candles), step), q)
}

// Upsert writes candles in batches, replacing rows with the same
// (symbol, timestamp).
func (s *PostgresStore) Upsert(ctx context.Context, candles []common.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	// PostgreSQL caps a statement at 65535 parameters
	const colsPerRow = 7
	batchSize := 1000
	if max := 65535 / colsPerRow; batchSize > max {
		batchSize = max
	}

	for start := 0; start < len(candles); start += batchSize {
		end := start + batchSize
		if end > len(candles) {
			end = len(candles)
		}

		valueStrings := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*colsPerRow)
		for i := start; i < end; i++ {
			c := candles[i]
			idx := (i - start) * colsPerRow
			valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)", idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7))
			args = append(args, c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		}

		query := fmt.Sprintf(`
		INSERT INTO candle_cache (symbol, timestamp, open, high, low, close, volume)
		VALUES %s
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`, strings.Join(valueStrings, ","))

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert candles %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Coverage reports how many candles are stored for symbol and their range.
func (s *PostgresStore) Coverage(ctx context.Context, symbol string) (common.Coverage, error) {
	return coverage(ctx, s.db, "candle_cache", true, symbol)
}

// candleQuery builds the window select. Postgres takes numbered ($n)
// placeholders, ClickHouse takes "?".
func candleQuery(table string, numbered bool, symbol string, from, to time.Time) (string, []interface{}) {
	args := []interface{}{symbol}
	next := func() string {
		if numbered {
			return fmt.Sprintf("$%d", len(args))
		}
		return "?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT symbol, timestamp, open, high, low, close, volume FROM %s WHERE symbol = %s", table, next())
	if !from.IsZero() {
		args = append(args, from.Unix())
		b.WriteString(" AND timestamp >= " + next())
	}
	if !to.IsZero() {
		args = append(args, to.Unix())
		b.WriteString(" AND timestamp <= " + next())
	}
	b.WriteString(" ORDER BY timestamp ASC")
	return b.String(), args
}

func coverage(ctx context.Context, db *sqlx.DB, table string, numbered bool, symbol string) (common.Coverage, error) {
	arg := "?"
	if numbered {
		arg = "$1"
	}
	query := fmt.Sprintf("SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM %s WHERE symbol = %s", table, arg)

	var (
		count       int64
		first, last sql.NullInt64
	)
	if err := db.QueryRowxContext(ctx, query, symbol).Scan(&count, &first, &last); err != nil {
		return common.Coverage{}, fmt.Errorf("coverage of %s in %s: %w", symbol, table, err)
	}
	cov := common.Coverage{Symbol: symbol, Count: count}
	if first.Valid {
		cov.First = time.Unix(first.Int64, 0).UTC()
	}
	if last.Valid {
		cov.Last = time.Unix(last.Int64, 0).UTC()
	}
	return cov, nil
}
