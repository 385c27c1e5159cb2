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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

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
	log, _, _ := logger.New(logger.Options{Service: "api-gateway", Level: cfg.LogLevel})
	log.Info().Msg("API Gateway starting")

	specs, err := cfg.FilterSpecs()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid filter configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &server{
		log:            log,
		eval:           evaluator.New(log),
		sourceName:     cfg.APIPriceSource,
		initialBalance: cfg.InitialBalance,
		defaults:       specs,
		limiter:        rate.NewLimiter(rate.Limit(cfg.APIRateLimit), cfg.APIRateBurst),
	}
	closers := openSource(ctx, srv, cfg, log)

	if len(cfg.KafkaBrokers) > 0 {
		k := evaluator.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, k.Close)
		srv.publisher = k
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API Gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run API Gateway")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	for _, c := range closers {
		if err := c(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}
	log.Info().Msg("API Gateway stopped")
}

// openSource wires the loader named by API_PRICE_SOURCE. A source that cannot
// be opened leaves the gateway serving request-supplied prices only.
func openSource(ctx context.Context, srv *server, cfg *config.Config, log zerolog.Logger) []func() error {
	var closers []func() error
	switch cfg.APIPriceSource {
	case "postgres":
		store, err := source.OpenPostgres(ctx, cfg.PostgresDSN, log)
		if err != nil {
			log.Error().Err(err).Msg("postgres unavailable")
			return nil
		}
		srv.loader, srv.ready = source.Timed("postgres", store), store
		closers = append(closers, store.Close)
	case "clickhouse":
		ch, err := source.OpenClickHouse(ctx, cfg.ClickHouseDSN, log)
		if err != nil {
			log.Error().Err(err).Msg("clickhouse unavailable")
			return nil
		}
		srv.loader, srv.ready = source.Timed("clickhouse", ch), ch
		closers = append(closers, ch.Close)
	case "bybit":
		opts := source.BybitOptions{
			BaseURL:    cfg.BybitBaseURL,
			Category:   cfg.BybitCategory,
			RatePerSec: cfg.BybitRateLimit,
			Log:        log,
		}
		if cfg.RedisAddr != "" {
			cache := source.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
			opts.Cache = cache
			srv.ready = cache
			closers = append(closers, cache.Close)
		}
		srv.loader = source.Timed("bybit", source.NewBybitLoader(opts))
	case "", "none":
	default:
		log.Warn().Str("source", cfg.APIPriceSource).Msg("unknown API_PRICE_SOURCE, only request prices are accepted")
	}
	return closers
}
