package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rus-connect/filterbench/pkg/config"
	"github.com/rus-connect/filterbench/pkg/logger"
	"github.com/rus-connect/filterbench/pkg/source"
	"github.com/rus-connect/filterbench/pkg/validator"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, _, _ := logger.New(logger.Options{Service: "data-fetcher", Level: cfg.LogLevel})
	log.Info().Strs("symbols", cfg.CollectorSymbols).Msg("Data Fetcher started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := make(map[string]candleStore)
	pingers := make(map[string]pinger)
	for _, name := range cfg.CollectorStores {
		switch name {
		case "postgres":
			pg, err := openWithRetry(ctx, log, name, func() (*source.PostgresStore, error) {
				return source.OpenPostgres(ctx, cfg.PostgresDSN, log)
			})
			if err != nil {
				log.Error().Err(err).Msg("postgres unavailable, candles won't be persisted there")
				continue
			}
			defer pg.Close()
			if err := pg.EnsureSchema(ctx); err != nil {
				log.Fatal().Err(err).Msg("postgres schema")
			}
			stores[name], pingers[name] = pg, pg
		case "clickhouse":
			ch, err := openWithRetry(ctx, log, name, func() (*source.ClickHouseStore, error) {
				return source.OpenClickHouse(ctx, cfg.ClickHouseDSN, log)
			})
			if err != nil {
				log.Error().Err(err).Msg("clickhouse unavailable, candles won't be persisted there")
				continue
			}
			defer ch.Close()
			if err := ch.EnsureSchema(ctx); err != nil {
				log.Fatal().Err(err).Msg("clickhouse schema")
			}
			stores[name], pingers[name] = ch, ch
		default:
			log.Warn().Str("store", name).Msg("unknown collector store")
		}
	}

	symbols := make([]string, 0, len(cfg.CollectorSymbols))
	for _, s := range cfg.CollectorSymbols {
		if err := validator.ValidateSymbol(s); err != nil {
			log.Warn().Str("symbol", s).Msg("skipping invalid symbol")
			continue
		}
		symbols = append(symbols, s)
	}

	collector := &Collector{
		fetcher: source.NewBybitLoader(source.BybitOptions{
			BaseURL:    cfg.BybitBaseURL,
			Category:   cfg.BybitCategory,
			RatePerSec: cfg.BybitRateLimit,
			Log:        log,
		}),
		stores:   stores,
		breaker:  NewCircuitBreaker(5, 10*time.Second, log),
		symbols:  symbols,
		lookback: cfg.CollectorLookback,
		retries:  3,
		now:      time.Now,
		log:      log,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := NewKafkaProducerWrapper(cfg.KafkaBrokers, cfg.CollectorTopic)
		defer producer.Close()
		collector.pub = producer
	}

	srv := startHealthServer(cfg.DataFetcherPort, pingers, collector.breaker, log)

	collector.Run(ctx, cfg.CollectorInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("Data Fetcher stopped gracefully")
}

func openWithRetry[T any](ctx context.Context, log zerolog.Logger, name string, open func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for i := 0; i < 20; i++ {
		if v, err = open(); err == nil {
			return v, nil
		}
		log.Warn().Err(err).Str("store", name).Int("attempt", i+1).Msg("open failed, retrying in 3s")
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return v, err
}

func startHealthServer(port string, stores map[string]pinger, breaker *CircuitBreaker, log zerolog.Logger) *http.Server {
	srv := &http.Server{Addr: ":" + port, Handler: healthMux(stores, breaker)}
	go func() {
		log.Info().Str("port", port).Msg("health server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server stopped")
		}
	}()
	return srv
}

func healthMux(stores map[string]pinger, breaker *CircuitBreaker) *http.ServeMux {
	mux := http.NewServeMux()
	healthz := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
	}
	mux.HandleFunc("/health", healthz)
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ready := len(stores) > 0
		status := make(map[string]bool, len(stores))
		for name, s := range stores {
			status[name] = s.Ping(ctx) == nil
			ready = ready && status[name]
		}
		body := map[string]interface{}{"stores": status, "breaker": breaker.State()}
		if !ready {
			body["status"] = "not_ready"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		writeJSON(w, http.StatusOK, body)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}
