package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/validator"
)

const (
	defaultBybitURL = "https://api.bybit.com"
	bybitPageLimit  = 1000
	maxKlinePages   = 1000
)

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

// BybitOptions configure a BybitLoader. Zero values take defaults.
type BybitOptions struct {
	BaseURL    string
	Category   string
	RatePerSec float64
	PageLimit  int
	HTTPClient *http.Client
	Cache      CandleCache
	Log        zerolog.Logger
}

// BybitLoader pages through /v5/market/kline. Requests are paced by a token
// bucket; fetched windows go through an optional cache.
type BybitLoader struct {
	baseURL   string
	category  string
	pageLimit int
	client    *http.Client
	limiter   *rate.Limiter
	cache     CandleCache
	log       zerolog.Logger
	now       func() time.Time
}

func NewBybitLoader(opts BybitOptions) *BybitLoader {
	l := &BybitLoader{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		category:  opts.Category,
		pageLimit: opts.PageLimit,
		client:    opts.HTTPClient,
		cache:     opts.Cache,
		log:       opts.Log.With().Str("source", "bybit").Logger(),
		now:       time.Now,
	}
	if l.baseURL == "" {
		l.baseURL = defaultBybitURL
	}
	if l.category == "" {
		l.category = "spot"
	}
	if l.pageLimit <= 0 || l.pageLimit > bybitPageLimit {
		l.pageLimit = bybitPageLimit
	}
	if l.client == nil {
		l.client = &http.Client{Timeout: 30 * time.Second}
	}
	perSec := opts.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	l.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	return l
}

// Load fetches q's window. A zero To means now, truncated to the interval so
// repeated open-ended loads within one candle share a cache key; a zero From
// means one page of candles before To.
func (l *BybitLoader) Load(ctx context.Context, q Query) (common.PriceSeries, error) {
	interval := q.Interval
	if interval == "" {
		interval = "1"
	}
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	to := q.To
	if to.IsZero() {
		to = l.now().UTC().Truncate(step)
	}
	from := q.From
	if from.IsZero() {
		from = to.Add(-time.Duration(l.pageLimit) * step)
	}

	candles, err := l.FetchKlines(ctx, q.Symbol, interval, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	return Normalize(FromCandles(candles), Query{Symbol: q.Symbol, From: from, To: to, Interval: interval})
}

// FetchKlines returns candles in [startMs, endMs] oldest first, with
// timestamps in unix seconds.
func (l *BybitLoader) FetchKlines(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]common.Candle, error) {
	key := klineKey(l.category, symbol, interval, startMs, endMs)
	if l.cache != nil {
		cached, err := l.cache.Get(ctx, key)
		switch {
		case err == nil:
			l.log.Debug().Str("symbol", symbol).Int("candles", len(cached)).Msg("kline cache hit")
			return cached, nil
		case !errors.Is(err, ErrCacheMiss):
			l.log.Warn().Err(err).Msg("kline cache read failed")
		}
	}

	all := make([]common.Candle, 0)
	curEndMs := endMs
	for page := 1; curEndMs >= startMs && page <= maxKlinePages; page++ {
		rows, err := l.fetchPage(ctx, symbol, interval, startMs, curEndMs)
		if err != nil {
			return nil, err
		}
		l.log.Debug().Int("page", page).Int("klines", len(rows)).Int64("start_ms", startMs).Int64("end_ms", curEndMs).Msg("kline page")
		if len(rows) == 0 {
			break
		}

		oldest := int64(-1)
		for _, row := range rows {
			c, tsMs, err := parseKline(symbol, row)
			if err != nil {
				l.log.Warn().Err(err).Strs("row", row).Msg("skipping kline row")
				continue
			}
			all = append(all, c)
			if oldest < 0 || tsMs < oldest {
				oldest = tsMs
			}
		}
		if oldest < 0 || oldest <= startMs || len(rows) < l.pageLimit {
			break
		}
		curEndMs = oldest - 1
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	out := all[:0]
	for _, c := range all {
		if n := len(out); n > 0 && out[n-1].Timestamp == c.Timestamp {
			continue
		}
		out = append(out, c)
	}

	l.log.Info().Str("symbol", symbol).Int("candles", len(out)).Msg("klines fetched")
	if l.cache != nil && len(out) > 0 {
		if err := l.cache.Set(ctx, key, out); err != nil {
			l.log.Warn().Err(err).Msg("kline cache write failed")
		}
	}
	return out, nil
}

func (l *BybitLoader) fetchPage(ctx context.Context, symbol, interval string, startMs, endMs int64) ([][]string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(l.baseURL + "/v5/market/kline")
	if err != nil {
		return nil, fmt.Errorf("bybit url: %w", err)
	}
	q := u.Query()
	q.Set("category", l.category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("start", strconv.FormatInt(startMs, 10))
	q.Set("end", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(l.pageLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit http status %s", resp.Status)
	}

	var byresp bybitKlineResponse
	if err := sonic.Unmarshal(body, &byresp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if byresp.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", byresp.RetCode, byresp.RetMsg)
	}
	return byresp.Result.List, nil
}

// parseKline reads [startMs, open, high, low, close, volume, ...].
func parseKline(symbol string, row []string) (common.Candle, int64, error) {
	if len(row) < 6 {
		return common.Candle{}, 0, fmt.Errorf("short kline row (%d fields)", len(row))
	}
	tsMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return common.Candle{}, 0, fmt.Errorf("bad timestamp %q", row[0])
	}
	if err := validator.ValidateTimestamp(tsMs / 1000); err != nil {
		return common.Candle{}, 0, fmt.Errorf("kline %q: %w", row[0], err)
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return common.Candle{}, 0, fmt.Errorf("bad number %q", row[i+1])
		}
		vals[i] = v
	}
	return common.Candle{
		Symbol:    symbol,
		Timestamp: tsMs / 1000,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, tsMs, nil
}
