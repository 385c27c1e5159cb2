package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/config"
	"github.com/rus-connect/filterbench/pkg/logger"
	"github.com/rus-connect/filterbench/pkg/source"
)

type coverageSource interface {
	Coverage(ctx context.Context, symbol string) (common.Coverage, error)
	Close() error
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbols")
	stores := flag.String("stores", "postgres,clickhouse", "stores to inspect (postgres, clickhouse)")
	flag.Parse()

	log, _, _ := logger.New(logger.Options{Service: "db_status", Level: cfg.LogLevel, Console: true, Output: os.Stderr})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, name := range strings.Split(*stores, ",") {
		name = strings.TrimSpace(name)
		var (
			store coverageSource
			err   error
		)
		switch name {
		case "postgres":
			store, err = source.OpenPostgres(ctx, cfg.PostgresDSN, log)
		case "clickhouse":
			store, err = source.OpenClickHouse(ctx, cfg.ClickHouseDSN, log)
		default:
			fmt.Printf("%s: unknown store\n", name)
			continue
		}
		if err != nil {
			fmt.Printf("%s: error: %v\n", name, err)
			continue
		}

		fmt.Printf("=== %s ===\n", name)
		for _, sym := range strings.Split(*symbols, ",") {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			cov, err := store.Coverage(ctx, sym)
			if err != nil {
				fmt.Printf("%s: error: %v\n", sym, err)
				continue
			}
			if cov.Count == 0 {
				fmt.Printf("%s: no candles\n", sym)
				continue
			}
			fmt.Printf("%s: %d candles from %s to %s\n", sym, cov.Count,
				cov.First.Format("2006-01-02 15:04:05"), cov.Last.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		store.Close()
	}
}
