package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/validator"
)

func TestDemo(t *testing.T) {
	d := Demo()
	if len(d) != 20 {
		t.Fatalf("len = %d", len(d))
	}
	if d[0].Close != 100 || d[19].Close != 103 {
		t.Errorf("unexpected closes %v %v", d[0].Close, d[19].Close)
	}
	if !d[0].Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first timestamp = %v", d[0].Timestamp)
	}
	if err := validator.ValidateSeries(d); err != nil {
		t.Fatal(err)
	}
}

func TestRandomWalkDeterministic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := RandomWalk(300, start, 42)
	b := RandomWalk(300, start, 42)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed should give the same walk")
	}
	if err := validator.ValidateSeries(a); err != nil {
		t.Fatal(err)
	}
}

func TestReadCSV(t *testing.T) {
	in := "Date,Open,Close,Volume\n" +
		"2025-01-03,1,103,10\n" +
		"2025-01-01,1,100,10\n" +
		"2025-01-02,1,102,10\n" +
		"2025-01-02,1,101.5,10\n"

	got, err := ReadCSV(strings.NewReader(in), Query{})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := []float64{100, 101.5, 103}
	if !reflect.DeepEqual(got.Closes(), want) {
		t.Fatalf("closes = %v, want %v", got.Closes(), want)
	}
}

func TestReadCSVWindowAndUnixTime(t *testing.T) {
	in := "timestamp,close\n1735689600,100\n1735776000,101\n1735862400,102\n"
	from := time.Unix(1735776000, 0)
	got, err := ReadCSV(strings.NewReader(in), Query{From: from})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Close != 101 {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestReadCSVErrors(t *testing.T) {
	cases := map[string]string{
		"no close column": "timestamp,open\n2025-01-01,1\n",
		"bad price":       "timestamp,close\n2025-01-01,abc\n",
		"negative price":  "timestamp,close\n2025-01-01,-5\n",
		"bad timestamp":   "timestamp,close\nyesterday,5\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(in), Query{}); !errors.Is(err, validator.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{"": time.Minute, "1": time.Minute, "60": time.Hour, "D": 24 * time.Hour, "w": 7 * 24 * time.Hour}
	for in, want := range cases {
		got, err := IntervalDuration(in)
		if err != nil || got != want {
			t.Errorf("IntervalDuration(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := IntervalDuration("-5"); err == nil {
		t.Error("expected error for negative interval")
	}
}

func TestResample(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var in common.PriceSeries
	for i := 0; i < 150; i++ {
		in = append(in, common.PricePoint{Timestamp: start.Add(time.Duration(i) * time.Minute), Close: float64(i + 1)})
	}
	out := Resample(in, time.Hour)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Close != 60 || out[1].Close != 120 || out[2].Close != 150 {
		t.Errorf("closes = %v", out.Closes())
	}
	if !out[1].Timestamp.Equal(start.Add(time.Hour)) {
		t.Errorf("bucket label = %v", out[1].Timestamp)
	}
}

const baseMs = int64(60000 * 28333333)

// klineServer serves one candle per minute in the requested window, newest
// first, like Bybit does.
func klineServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/v5/market/kline" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") == "BADUSDT" {
			fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error: symbol invalid","result":{}}`)
			return
		}
		start, _ := strconv.ParseInt(q.Get("start"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("end"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		var rows []string
		for ts := end - end%60000; ts >= start && len(rows) < limit; ts -= 60000 {
			price := 100 + float64((ts-baseMs)/60000)
			rows = append(rows, fmt.Sprintf(`["%d","%g","%g","%g","%g","1","1"]`, ts, price, price, price, price))
		}
		fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"category":"spot","symbol":"%s","list":[%s]}}`, q.Get("symbol"), strings.Join(rows, ","))
	}))
}

type memCache struct {
	data map[string][]common.Candle
}

func (m *memCache) Get(_ context.Context, key string) ([]common.Candle, error) {
	c, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c, nil
}

func (m *memCache) Set(_ context.Context, key string, candles []common.Candle) error {
	m.data[key] = candles
	return nil
}

func TestBybitFetchKlinesPaginates(t *testing.T) {
	var calls int32
	srv := klineServer(t, &calls)
	defer srv.Close()

	l := NewBybitLoader(BybitOptions{BaseURL: srv.URL, PageLimit: 3, RatePerSec: 1000, Log: zerolog.Nop()})
	candles, err := l.FetchKlines(context.Background(), "BTCUSDT", "1", baseMs, baseMs+9*60000)
	if err != nil {
		t.Fatalf("FetchKlines: %v", err)
	}
	if len(candles) != 10 {
		t.Fatalf("got %d candles, want 10", len(candles))
	}
	for i, c := range candles {
		if c.Timestamp != baseMs/1000+int64(i*60) {
			t.Fatalf("candle %d timestamp %d", i, c.Timestamp)
		}
		if c.Close != 100+float64(i) {
			t.Fatalf("candle %d close %v", i, c.Close)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("requests = %d, want 4", got)
	}
}

func TestBybitLoadUsesCache(t *testing.T) {
	var calls int32
	srv := klineServer(t, &calls)
	defer srv.Close()

	cache := &memCache{data: map[string][]common.Candle{}}
	l := NewBybitLoader(BybitOptions{BaseURL: srv.URL, RatePerSec: 1000, Cache: cache, Log: zerolog.Nop()})
	q := Query{Symbol: "ETHUSDT", From: time.UnixMilli(baseMs), To: time.UnixMilli(baseMs + 4*60000), Interval: "1"}

	first, err := l.Load(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Load(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 5 || !reflect.DeepEqual(first, second) {
		t.Fatalf("unexpected series %v / %v", first, second)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("requests = %d, want 1 (second load served from cache)", got)
	}
}

func TestBybitOpenEndedLoadSharesCacheKey(t *testing.T) {
	var calls int32
	srv := klineServer(t, &calls)
	defer srv.Close()

	cache := &memCache{data: map[string][]common.Candle{}}
	l := NewBybitLoader(BybitOptions{BaseURL: srv.URL, PageLimit: 5, RatePerSec: 1000, Cache: cache, Log: zerolog.Nop()})
	now := time.UnixMilli(baseMs + 7*60000 + 12000)
	l.now = func() time.Time { return now }

	first, err := l.Load(context.Background(), Query{Symbol: "BTCUSDT", Interval: "1"})
	if err != nil {
		t.Fatal(err)
	}
	after := atomic.LoadInt32(&calls)

	now = now.Add(40 * time.Second)
	second, err := l.Load(context.Background(), Query{Symbol: "BTCUSDT", Interval: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("requests = %d after second load, want %d (same minute served from cache)", got, after)
	}
	if len(cache.data) != 1 {
		t.Errorf("cache keys = %d, want 1", len(cache.data))
	}
	if len(first) == 0 || !reflect.DeepEqual(first, second) {
		t.Fatalf("unexpected series %v / %v", first, second)
	}

	now = now.Add(time.Minute)
	if _, err := l.Load(context.Background(), Query{Symbol: "BTCUSDT", Interval: "1"}); err != nil {
		t.Fatal(err)
	}
	if len(cache.data) != 2 {
		t.Errorf("cache keys = %d after the next minute, want 2", len(cache.data))
	}
}

func TestParseKlineRejectsBadTimestamp(t *testing.T) {
	future := time.Now().Add(72 * time.Hour).UnixMilli()
	cases := []struct {
		name string
		ts   string
		ok   bool
	}{
		{"valid", strconv.FormatInt(baseMs, 10), true},
		{"negative", "-60000", false},
		{"far future", strconv.FormatInt(future, 10), false},
		{"not a number", "abc", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parseKline("BTCUSDT", []string{tc.ts, "1", "1", "1", "1", "1"})
			if (err == nil) != tc.ok {
				t.Fatalf("parseKline(%s) err = %v", tc.ts, err)
			}
		})
	}
}

func TestBybitAPIError(t *testing.T) {
	var calls int32
	srv := klineServer(t, &calls)
	defer srv.Close()

	l := NewBybitLoader(BybitOptions{BaseURL: srv.URL, RatePerSec: 1000, Log: zerolog.Nop()})
	_, err := l.FetchKlines(context.Background(), "BADUSDT", "1", baseMs, baseMs+60000)
	if err == nil || !strings.Contains(err.Error(), "symbol invalid") {
		t.Fatalf("expected bybit error, got %v", err)
	}
}

func TestCandleQuery(t *testing.T) {
	from := time.Unix(100, 0)
	q, args := candleQuery("candle_cache", true, "BTCUSDT", from, time.Time{})
	if !strings.Contains(q, "symbol = $1 AND timestamp >= $2 ORDER BY") {
		t.Errorf("postgres query = %s", q)
	}
	if !reflect.DeepEqual(args, []interface{}{"BTCUSDT", int64(100)}) {
		t.Errorf("args = %v", args)
	}

	q, _ = candleQuery("candle_1m", false, "BTCUSDT", from, time.Unix(200, 0))
	if !strings.Contains(q, "FROM candle_1m WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?") {
		t.Errorf("clickhouse query = %s", q)
	}
}
