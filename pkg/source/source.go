// Package source loads close-price series from files, databases and the
// Bybit REST API.
package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/metrics"
	"github.com/rus-connect/filterbench/pkg/validator"
)

// Query selects a window of prices. Zero From/To leave that side open.
type Query struct {
	Symbol   string
	From     time.Time
	To       time.Time
	Interval string
}

// Loader returns a validated price series ordered by timestamp.
type Loader interface {
	Load(ctx context.Context, q Query) (common.PriceSeries, error)
}

// Timed wraps a loader and records its load duration under name.
func Timed(name string, l Loader) Loader {
	return timed{name: name, next: l}
}

type timed struct {
	name string
	next Loader
}

func (t timed) Load(ctx context.Context, q Query) (common.PriceSeries, error) {
	start := time.Now()
	defer func() {
		metrics.SourceLoadDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
	}()
	return t.next.Load(ctx, q)
}

// IntervalDuration maps Bybit style intervals ("1", "60", "D", "W") to a
// duration. An empty interval means one minute.
func IntervalDuration(interval string) (time.Duration, error) {
	switch strings.ToUpper(strings.TrimSpace(interval)) {
	case "":
		return time.Minute, nil
	case "D":
		return 24 * time.Hour, nil
	case "W":
		return 7 * 24 * time.Hour, nil
	}
	minutes, err := strconv.Atoi(interval)
	if err != nil || minutes <= 0 {
		return 0, &validator.ValidationError{Field: "interval", Reason: fmt.Sprintf("unsupported interval %q", interval)}
	}
	return time.Duration(minutes) * time.Minute, nil
}

// Normalize sorts points by time, keeps the last point for duplicate
// timestamps, trims to the query window and validates the result.
func Normalize(points common.PriceSeries, q Query) (common.PriceSeries, error) {
	sorted := make(common.PriceSeries, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	out := make(common.PriceSeries, 0, len(sorted))
	for _, p := range sorted {
		if !q.From.IsZero() && p.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && p.Timestamp.After(q.To) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}

	if err := validator.ValidateSeries(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Resample keeps the last close of every bucket of width step. Buckets are
// aligned to the unix epoch and labelled by their start.
func Resample(points common.PriceSeries, step time.Duration) common.PriceSeries {
	if step <= time.Minute || len(points) == 0 {
		return points
	}
	out := make(common.PriceSeries, 0, len(points))
	for _, p := range points {
		bucket := p.Timestamp.Truncate(step)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucket) {
			out[n-1].Close = p.Close
			continue
		}
		out = append(out, common.PricePoint{Timestamp: bucket, Close: p.Close})
	}
	return out
}

// FromCandles converts stored candles (unix seconds) to a close series.
func FromCandles(candles []common.Candle) common.PriceSeries {
	out := make(common.PriceSeries, len(candles))
	for i, c := range candles {
		out[i] = common.PricePoint{Timestamp: time.Unix(c.Timestamp, 0).UTC(), Close: c.Close}
	}
	return out
}

// ParseTime accepts RFC3339, "2006-01-02", "2006-01-02 15:04:05", unix
// seconds or unix milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, &validator.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("cannot parse %q", s)}
}
