package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/config"
	"github.com/rus-connect/filterbench/pkg/logger"
	"github.com/rus-connect/filterbench/pkg/source"
	"github.com/rus-connect/filterbench/pkg/validator"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	symbolsFlag := flag.String("symbols", "BTCUSDT", "comma-separated symbols")
	startFlag := flag.String("start", "2025-09-15", "start date YYYY-MM-DD")
	endFlag := flag.String("end", "2025-09-21", "end date YYYY-MM-DD (inclusive)")
	interval := flag.String("interval", "1", "Bybit kline interval")
	flag.Parse()

	log, closeLog, err := logger.New(logger.Options{Service: "fetch_range", Level: cfg.LogLevel, Console: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	startT, err := time.Parse("2006-01-02", *startFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid start date")
	}
	endT, err := time.Parse("2006-01-02", *endFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid end date")
	}
	// end inclusive -> set to end of day
	endT = endT.Add(24*time.Hour - time.Second)
	if _, err := source.IntervalDuration(*interval); err != nil {
		log.Fatal().Err(err).Msg("invalid interval")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := source.OpenPostgres(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	opts := source.BybitOptions{
		BaseURL:    cfg.BybitBaseURL,
		Category:   cfg.BybitCategory,
		RatePerSec: cfg.BybitRateLimit,
		Log:        log,
	}
	if cfg.RedisAddr != "" {
		cache := source.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		defer cache.Close()
		opts.Cache = cache
	}
	bybit := source.NewBybitLoader(opts)

	// Symbols are fetched in parallel; the shared limiter keeps the request
	// rate within BYBIT_RATE_LIMIT.
	type result struct {
		sym     string
		candles []common.Candle
		err     error
	}

	symbols := make([]string, 0)
	for _, s := range strings.Split(*symbolsFlag, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if err := validator.ValidateSymbol(s); err != nil {
			log.Warn().Str("symbol", s).Err(err).Msg("skipping symbol")
			continue
		}
		symbols = append(symbols, s)
	}

	ch := make(chan result, len(symbols))
	for _, sym := range symbols {
		go func(s string) {
			log.Info().Str("symbol", s).Time("from", startT).Time("to", endT).Msg("fetching")
			candles, err := bybit.FetchKlines(ctx, s, *interval, startT.UnixMilli(), endT.UnixMilli())
			ch <- result{sym: s, candles: candles, err: err}
		}(sym)
	}

	failed := 0
	for range symbols {
		r := <-ch
		if r.err != nil {
			log.Error().Err(r.err).Str("symbol", r.sym).Msg("fetch failed")
			failed++
			continue
		}
		if err := store.Upsert(ctx, r.candles); err != nil {
			log.Error().Err(err).Str("symbol", r.sym).Msg("insert failed")
			failed++
			continue
		}
		log.Info().Str("symbol", r.sym).Int("candles", len(r.candles)).Msg("inserted candles")
	}
	if failed > 0 {
		log.Error().Int("failed", failed).Msg("some symbols were not stored")
		os.Exit(1)
	}
}
