package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/config"
	"github.com/rus-connect/filterbench/pkg/evaluator"
	"github.com/rus-connect/filterbench/pkg/logger"
	"github.com/rus-connect/filterbench/pkg/source"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	src := flag.String("source", "demo", "Price source (demo, random, csv, postgres, clickhouse, bybit)")
	file := flag.String("file", "", "CSV file for -source csv")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol to load")
	from := flag.String("from", "", "Window start (YYYY-MM-DD, RFC3339 or unix seconds)")
	to := flag.String("to", "", "Window end (YYYY-MM-DD, RFC3339 or unix seconds)")
	interval := flag.String("interval", "D", "Candle interval (1, 5, 15, 60, 240, D, W)")
	points := flag.Int("points", 250, "Series length for -source random")
	seed := flag.Int64("seed", 1, "Seed for -source random")
	balance := flag.Float64("balance", cfg.InitialBalance, "Initial balance")
	filters := flag.String("filters", strings.Join(cfg.Filters, ","), "Comma-separated filters (rsi, macd, bollinger)")
	flag.IntVar(&cfg.RSIPeriod, "rsi-period", cfg.RSIPeriod, "RSI lookback")
	flag.Float64Var(&cfg.RSILower, "rsi-lower", cfg.RSILower, "RSI lower threshold")
	flag.Float64Var(&cfg.RSIUpper, "rsi-upper", cfg.RSIUpper, "RSI upper threshold")
	flag.IntVar(&cfg.MACDFast, "macd-fast", cfg.MACDFast, "MACD fast EMA")
	flag.IntVar(&cfg.MACDSlow, "macd-slow", cfg.MACDSlow, "MACD slow EMA")
	flag.IntVar(&cfg.MACDSignal, "macd-signal", cfg.MACDSignal, "MACD signal EMA")
	flag.IntVar(&cfg.BBWindow, "bb-window", cfg.BBWindow, "Bollinger window")
	flag.Float64Var(&cfg.BBK, "bb-k", cfg.BBK, "Bollinger band width in standard deviations")
	chartPath := flag.String("chart", cfg.ChartPath, "Write an HTML bar chart of final balances to this path")
	jsonPath := flag.String("json", "", "Write the JSON report to this path (- for stdout)")
	publish := flag.Bool("kafka", false, "Publish the report to KAFKA_TOPIC")
	showTrades := flag.Bool("trades", true, "Print the trades table")
	flag.Parse()

	log, closeLog, err := logger.New(logger.Options{
		Service:  "backtest",
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
		Console:  true,
		Output:   os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open run log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := source.Query{Symbol: strings.ToUpper(*symbol), Interval: *interval}
	if q.From, err = parseBound(*from); err != nil {
		log.Fatal().Err(err).Msg("invalid -from")
	}
	if q.To, err = parseBound(*to); err != nil {
		log.Fatal().Err(err).Msg("invalid -to")
	}

	loader, closeLoader, err := newLoader(ctx, *src, *file, *points, *seed, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("source", *src).Msg("failed to open price source")
	}
	defer closeLoader()

	prices, err := source.Timed(*src, loader).Load(ctx, q)
	if err != nil {
		log.Fatal().Err(err).Str("source", *src).Msg("failed to load prices")
	}
	log.Info().Str("source", *src).Int("points", len(prices)).Msg("prices loaded")

	cfg.Filters = splitList(*filters)
	specs, err := cfg.FilterSpecs()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -filters")
	}

	report := evaluator.New(log).Run(ctx, evaluator.Request{
		Symbol:         q.Symbol,
		Source:         *src,
		Prices:         prices,
		Filters:        specs,
		InitialBalance: *balance,
	})

	sinks := []evaluator.Sink{evaluator.LogSink{Log: log}}
	if *chartPath != "" {
		sinks = append(sinks, evaluator.ChartSink{Path: *chartPath})
	}
	if *jsonPath != "" {
		w, closeJSON, err := openOutput(*jsonPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open -json output")
		}
		defer closeJSON()
		sinks = append(sinks, evaluator.JSONSink{W: w})
	}
	if *publish {
		if len(cfg.KafkaBrokers) == 0 {
			log.Warn().Msg("-kafka set but KAFKA_BROKERS is empty, skipping publish")
		} else {
			k := evaluator.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
			defer k.Close()
			sinks = append(sinks, k)
		}
	}

	if err := evaluator.Publish(ctx, report, sinks...); err != nil {
		log.Error().Err(err).Msg("report output failed")
	}
	if *chartPath != "" {
		log.Info().Str("path", *chartPath).Msg("chart written")
	}
	if *showTrades {
		printTrades(os.Stdout, report)
	}
}

func newLoader(ctx context.Context, name, file string, points int, seed int64, cfg *config.Config, log zerolog.Logger) (source.Loader, func() error, error) {
	noop := func() error { return nil }
	switch name {
	case "demo":
		return source.DemoLoader{}, noop, nil
	case "random":
		return source.DemoLoader{Points: points, Seed: seed}, noop, nil
	case "csv":
		if file == "" {
			return nil, noop, fmt.Errorf("-file is required for -source csv")
		}
		return source.CSVLoader{Path: file}, noop, nil
	case "postgres":
		store, err := source.OpenPostgres(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "clickhouse":
		ch, err := source.OpenClickHouse(ctx, cfg.ClickHouseDSN, log)
		if err != nil {
			return nil, noop, err
		}
		return ch, ch.Close, nil
	case "bybit":
		opts := source.BybitOptions{
			BaseURL:    cfg.BybitBaseURL,
			Category:   cfg.BybitCategory,
			RatePerSec: cfg.BybitRateLimit,
			Log:        log,
		}
		closer := noop
		if cfg.RedisAddr != "" {
			cache := source.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
			if err := cache.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("redis unavailable, fetching without cache")
				cache.Close()
			} else {
				opts.Cache = cache
				closer = cache.Close
			}
		}
		return source.NewBybitLoader(opts), closer, nil
	}
	return nil, noop, fmt.Errorf("unknown source %q", name)
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return source.ParseTime(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func printTrades(w io.Writer, report *evaluator.Report) {
	for _, res := range report.Results {
		if res.Failed() || len(res.Result.Trades) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Trades for %s:\n", res.Name)
		fmt.Fprintf(w, "%-5s %-6s %-20s %-12s %-10s\n", "Index", "Type", "Time", "Price", "Profit")
		for _, t := range res.Result.Trades {
			profit := ""
			if t.Type == common.TradeSell {
				profit = t.Profit.StringFixed(4)
			}
			fmt.Fprintf(w, "%-5d %-6s %-20s %-12s %-10s\n",
				t.Index,
				t.Type,
				t.Timestamp.Format("2006-01-02 15:04:05"),
				t.Price.StringFixed(4),
				profit,
			)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "RANKING:")
	for i, e := range report.Ranking.Entries {
		branch := "├──"
		if i == len(report.Ranking.Entries)-1 && len(report.Ranking.Failed) == 0 {
			branch = "└──"
		}
		fmt.Fprintf(w, "%s %d. %s: %s (Win Rate: %.1f%%)\n", branch, e.Rank, e.Name, e.FinalBalance.StringFixed(2), e.WinRatePercent)
	}
	for i, name := range report.Ranking.Failed {
		branch := "├──"
		if i == len(report.Ranking.Failed)-1 {
			branch = "└──"
		}
		fmt.Fprintf(w, "%s %s: failed\n", branch, name)
	}
}
